// Package circuitbreaker guards the email provider against repeated failures.
//
// The service talks to a single provider, so the breaker tracks one state
// rather than a per-endpoint map. After threshold consecutive failures the
// breaker opens; once the cooldown elapses a single probe call is allowed
// (half-open), and its result decides whether the breaker closes or re-opens.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type Breaker struct {
	mu                  sync.Mutex
	state               state
	consecutiveFailures int
	openedAt            time.Time

	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New creates a Breaker. A threshold of 0 disables it: Allow always succeeds.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clock().Sub(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		// One probe at a time; concurrent callers wait for its verdict.
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	if b == nil || b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.consecutiveFailures = 0
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	if b == nil || b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.state == stateHalfOpen || b.consecutiveFailures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.clock()
	}
}
