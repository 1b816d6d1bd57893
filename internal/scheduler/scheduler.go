// Package scheduler fires delivery requests for documents.
//
// Two paths feed the delivery workers. One-shot triggers are in-memory timers
// armed per document at registration time; they do not survive a restart. The
// sweep runs on a fixed interval, scans the ledger for pending documents whose
// delivery date has passed, and emits requests for them directly. The sweep is
// the safety net: it recovers triggers lost to a restart and catches anything
// a timer missed. Both paths may race on the same document; the delivery
// worker's ledger re-check makes that safe.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
)

// Store is the ledger view the sweep needs.
type Store interface {
	ListPendingDue(ctx context.Context, now time.Time) ([]domain.Document, error)
}

// EventEmitter hands delivery requests to the workers.
type EventEmitter interface {
	Emit(ctx context.Context, req domain.DeliveryRequest) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SweepStarted()
	SweepCompleted(duration time.Duration, documentsDue int, err error)
	TriggerRegistered()
	TriggerCancelled()
	TriggerFired(source string)
}

// Config holds scheduler configuration.
type Config struct {
	// SweepInterval is how often the sweep scans the ledger. Default: 60s.
	SweepInterval time.Duration
}

// Scheduler owns the per-document triggers and the sweep loop.
type Scheduler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer

	// runCtx is nil until Run starts and while the scheduler is stopped.
	// Fires only emit against a live run; anything else is dropped and left
	// to the sweep of whichever instance is running one.
	runCtx  context.Context
	stopped bool
}

// New creates a Scheduler.
func New(config Config, store Store, emitter EventEmitter) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 60 * time.Second
	}
	return &Scheduler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Register arms (or replaces) the one-shot trigger for a document. A fireAt
// in the past fires promptly. At most one live trigger exists per document:
// re-registering cancels the previous timer first, which is how delivery-date
// edits take effect.
func (s *Scheduler) Register(documentID uuid.UUID, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Printf("scheduler: stopped, dropping trigger for document=%s", documentID)
		return
	}

	if t, ok := s.timers[documentID]; ok {
		t.Stop()
		delete(s.timers, documentID)
	}

	delay := fireAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.timers[documentID] = time.AfterFunc(delay, func() {
		s.fire(documentID)
	})

	if s.metrics != nil {
		s.metrics.TriggerRegistered()
	}
	log.Printf("scheduler: registered document=%s fire_at=%s", documentID, fireAt.UTC().Format(time.RFC3339))
}

// Cancel removes a pending trigger. No-op when absent or already fired.
func (s *Scheduler) Cancel(documentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[documentID]
	if !ok {
		return
	}
	t.Stop()
	delete(s.timers, documentID)

	if s.metrics != nil {
		s.metrics.TriggerCancelled()
	}
	log.Printf("scheduler: cancelled trigger for document=%s", documentID)
}

// fire runs on the timer goroutine when a trigger elapses.
func (s *Scheduler) fire(documentID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, documentID)
	ctx := s.runCtx
	stopped := s.stopped || ctx == nil
	s.mu.Unlock()

	if stopped {
		// No sweep loop is draining the bus here. Emitting would block the
		// timer goroutine forever on a full buffer, so drop the fire.
		log.Printf("scheduler: not running, dropping fire for document=%s", documentID)
		return
	}

	req := domain.DeliveryRequest{
		DocumentID: documentID,
		FiredAt:    s.clock().UTC(),
		Source:     domain.SourceTrigger,
	}
	if err := s.emitter.Emit(ctx, req); err != nil {
		// The sweep will re-find the document; nothing is lost.
		log.Printf("scheduler: failed to emit trigger for document=%s: %v", documentID, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TriggerFired(domain.SourceTrigger)
	}
	log.Printf("scheduler: trigger fired document=%s", documentID)
}

// Run drives the sweep until ctx is cancelled. One sweep runs immediately on
// startup so documents that came due while the process was down are picked up
// without waiting a full interval. A stopped scheduler can be started again,
// which is how a re-elected instance resumes its delivery duties.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.stopped = false
	s.mu.Unlock()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, sweep=%s", s.config.SweepInterval)

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one sweep cycle: every pending document whose delivery date
// has passed gets a delivery request, bypassing trigger bookkeeping.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.SweepStarted()
	}

	now := s.clock().UTC()
	docs, err := s.store.ListPendingDue(ctx, now)
	if err != nil {
		// Ledger unavailable: log and wait for the next interval.
		log.Printf("scheduler: sweep failed to list pending documents: %v", err)
		if s.metrics != nil {
			s.metrics.SweepCompleted(time.Since(start), 0, err)
		}
		return
	}

	emitted := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			log.Printf("scheduler: sweep interrupted, emitted %d/%d", emitted, len(docs))
			break
		}

		req := domain.DeliveryRequest{
			DocumentID: doc.ID,
			FiredAt:    now,
			Source:     domain.SourceSweep,
		}
		if err := s.emitter.Emit(ctx, req); err != nil {
			log.Printf("scheduler: sweep failed to emit document=%s: %v", doc.ID, err)
			continue
		}
		emitted++
		if s.metrics != nil {
			s.metrics.TriggerFired(domain.SourceSweep)
		}
	}

	if len(docs) > 0 {
		log.Printf("scheduler: sweep found %d overdue documents, emitted %d (overdue_oldest=%s)",
			len(docs), emitted, now.Sub(docs[0].DeliveryDate).Round(time.Second))
	}
	if s.metrics != nil {
		s.metrics.SweepCompleted(time.Since(start), len(docs), nil)
	}
}

// shutdown stops accepting fires and disarms all pending triggers.
// In-flight delivery waves are the workers' to finish.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.runCtx = nil
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	log.Println("scheduler: stopped")
}

// PendingTriggers reports how many triggers are currently armed.
func (s *Scheduler) PendingTriggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
