package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
)

// mockMetrics records bus metric calls.
type mockMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func testRequest() domain.DeliveryRequest {
	return domain.DeliveryRequest{
		DocumentID: uuid.New(),
		FiredAt:    time.Now().UTC(),
		Source:     domain.SourceTrigger,
	}
}

func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus(10)

	req := testRequest()
	if err := bus.Emit(context.Background(), req); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.DocumentID != req.DocumentID {
			t.Errorf("expected document %s, got %s", req.DocumentID, got.DocumentID)
		}
	case <-time.After(time.Second):
		t.Fatal("request was not received")
	}
}

func TestBus_EmitFullBufferContextExpires(t *testing.T) {
	bus := NewBus(1)

	ctx := context.Background()
	if err := bus.Emit(ctx, testRequest()); err != nil {
		t.Fatalf("first emit failed: %v", err)
	}

	// Buffer is now full and nobody is consuming.
	expired, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := bus.Emit(expired, testRequest())
	if !errors.Is(err, ErrBusFull) {
		t.Fatalf("expected ErrBusFull, got %v", err)
	}
}

func TestBus_EmitBlocksUntilSpace(t *testing.T) {
	bus := NewBus(1)
	ctx := context.Background()

	if err := bus.Emit(ctx, testRequest()); err != nil {
		t.Fatalf("first emit failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- bus.Emit(ctx, testRequest())
	}()

	// Free one slot; the blocked emit should complete.
	<-bus.Channel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked emit failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("emit did not unblock after space freed")
	}
}

func TestBus_Metrics(t *testing.T) {
	sink := &mockMetrics{}
	bus := NewBus(5, WithMetrics(sink))

	if sink.capacity != 5 {
		t.Errorf("expected capacity 5 reported, got %d", sink.capacity)
	}

	bus.Emit(context.Background(), testRequest())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.sizes) != 1 || sink.sizes[0] != 1 {
		t.Errorf("expected one size update of 1, got %v", sink.sizes)
	}
}
