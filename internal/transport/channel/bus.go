// Package channel provides the in-memory bus that carries delivery requests
// from the scheduler (triggers and sweeps) to the delivery workers.
package channel

import (
	"context"
	"errors"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
)

// ErrBusFull is returned when the buffer is full and the caller's context
// expires before space frees up. The sweep will re-find the document.
var ErrBusFull = errors.New("delivery bus buffer full")

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) {
		b.metrics = sink
	}
}

// Bus is a buffered channel of delivery requests.
type Bus struct {
	ch      chan domain.DeliveryRequest
	metrics MetricsSink // optional, nil = disabled
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(buffer int, opts ...Option) *Bus {
	b := &Bus{
		ch: make(chan domain.DeliveryRequest, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a delivery request. It blocks while the buffer is full and
// fails once ctx is done.
func (b *Bus) Emit(ctx context.Context, req domain.DeliveryRequest) error {
	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBusFull
	}
}

// Channel returns the receive side consumed by delivery workers.
func (b *Bus) Channel() <-chan domain.DeliveryRequest {
	return b.ch
}
