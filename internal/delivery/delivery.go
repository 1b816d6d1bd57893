// Package delivery implements the delivery wave for a document.
//
// A wave loads the document, re-checks eligibility against the ledger, sends
// to every recipient, and closes the is_sent latch. The ledger re-check is the
// serialization point that makes concurrent invocation for the same document
// (a trigger racing a sweep tick) safe: the latch closes exactly once, and a
// losing wave turns into a no-op. Per-recipient failures never abort a wave;
// only infrastructure errors leave the document pending for the next sweep,
// which then retries the entire wave.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
	"github.com/dedysaragih123/TubesFutureMessage/internal/mailer"
	"github.com/dedysaragih123/TubesFutureMessage/internal/metrics"
)

// ErrAlreadySent is returned by Store.MarkSent when the latch was already
// closed by a concurrent wave. Callers treat it as success.
var ErrAlreadySent = errors.New("document already marked sent")

// Store is the ledger access the worker needs. MarkSent MUST be a conditional
// update ("set is_sent where not is_sent") so racing waves serialize on the
// storage layer, and MUST return ErrAlreadySent when the guard fails.
type Store interface {
	GetDocumentByID(ctx context.Context, id uuid.UUID) (domain.Document, error)
	ListRecipients(ctx context.Context, documentID uuid.UUID) ([]string, error)
	MarkSent(ctx context.Context, documentID uuid.UUID, sentAt time.Time) error
	InsertSendAttempt(ctx context.Context, attempt domain.SendAttempt) error
}

// Sender delivers one email through the provider gateway.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) mailer.SendResult
}

// AnalyticsSink records wave outcomes as a best-effort side effect.
// Implementations handle their own errors; analytics never affects delivery.
type AnalyticsSink interface {
	Record(ctx context.Context, documentID uuid.UUID, outcome domain.WaveOutcome)
}

// MetricsSink defines the interface for recording delivery metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendAttemptCompleted(statusClass string, duration time.Duration)
	WaveCompleted(outcome string)
	WavesInFlightIncr()
	WavesInFlightDecr()
}

// DefaultDrainTimeout bounds how long buffered requests are processed during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Worker consumes delivery requests and runs waves.
type Worker struct {
	store        Store
	sender       Sender
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	clock        func() time.Time
	drainTimeout time.Duration
}

// New creates a Worker.
func New(store Store, sender Sender) *Worker {
	return &Worker{
		store:        store,
		sender:       sender,
		clock:        time.Now,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithAnalytics attaches an analytics sink to the worker.
func (w *Worker) WithAnalytics(sink AnalyticsSink) *Worker {
	w.analytics = sink
	return w
}

// WithMetrics attaches a metrics sink to the worker.
func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (w *Worker) WithDrainTimeout(d time.Duration) *Worker {
	w.drainTimeout = d
	return w
}

// Run processes requests from the channel until ctx is cancelled, then drains
// remaining buffered requests with a timeout. Multiple workers may share one
// channel.
func (w *Worker) Run(ctx context.Context, ch <-chan domain.DeliveryRequest) {
	for {
		select {
		case <-ctx.Done():
			w.drain(ch)
			return
		case req := <-ch:
			if err := w.Deliver(ctx, req); err != nil {
				log.Printf("delivery: document=%s error: %v", req.DocumentID, err)
			}
		}
	}
}

// drain processes buffered requests after the shutdown signal.
// Uses a background context since the main context is already cancelled.
func (w *Worker) drain(ch <-chan domain.DeliveryRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("delivery: drain timeout, processed %d requests", count)
			}
			return
		case req, ok := <-ch:
			if !ok {
				log.Printf("delivery: drain complete, processed %d requests", count)
				return
			}
			if err := w.Deliver(drainCtx, req); err != nil {
				log.Printf("delivery: drain error for document=%s: %v", req.DocumentID, err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("delivery: drain complete, processed %d requests", count)
			}
			return
		}
	}
}

// Deliver runs one wave for a document.
//
// A nil return means the wave is settled: delivered, already sent, not yet
// due, vanished, or waiting on recipients. A non-nil return means an
// infrastructure failure left the document pending; the sweep retries the
// whole wave later, and recipients who already got the email may get it again.
func (w *Worker) Deliver(ctx context.Context, req domain.DeliveryRequest) error {
	if w.metrics != nil {
		w.metrics.WavesInFlightIncr()
		defer w.metrics.WavesInFlightDecr()
	}

	doc, err := w.store.GetDocumentByID(ctx, req.DocumentID)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted before firing: terminal, no retry.
		log.Printf("delivery: document=%s not found, skipping (source=%s)", req.DocumentID, req.Source)
		w.recordOutcome(ctx, req.DocumentID, domain.WaveOutcomeSkipped)
		return nil
	}
	if err != nil {
		w.recordOutcome(ctx, req.DocumentID, domain.WaveOutcomeDeferred)
		return fmt.Errorf("load document: %w", err)
	}

	// Dedup guard: this is what makes trigger/sweep races safe.
	if doc.IsSent {
		w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeSkipped)
		return nil
	}

	// A coarse sweep window can hand us a not-yet-due row.
	now := w.clock().UTC()
	if !doc.Due(now) {
		w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeSkipped)
		return nil
	}

	recipients, err := w.store.ListRecipients(ctx, doc.ID)
	if err != nil {
		w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeDeferred)
		return fmt.Errorf("list recipients: %w", err)
	}

	if len(recipients) == 0 {
		// The latch stays open so a collaborator added later still gets the
		// document on a following sweep.
		log.Printf("delivery: document=%s has no recipients, leaving pending", doc.ID)
		w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeSkipped)
		return nil
	}

	failed := 0
	for _, recipient := range recipients {
		startedAt := w.clock().UTC()
		result := w.sender.Send(ctx, recipient, doc.Title, doc.Content)
		finishedAt := w.clock().UTC()

		if w.metrics != nil {
			w.metrics.SendAttemptCompleted(metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		attempt := domain.SendAttempt{
			ID:             uuid.New(),
			DocumentID:     doc.ID,
			RecipientEmail: recipient,
			StatusCode:     result.StatusCode,
			StartedAt:      startedAt,
			FinishedAt:     finishedAt,
		}
		if result.Error != nil {
			attempt.Error = result.Error.Error()
		}
		if err := w.store.InsertSendAttempt(ctx, attempt); err != nil {
			log.Printf("delivery: failed to record attempt for document=%s recipient=%s: %v", doc.ID, recipient, err)
		}

		if result.IsSuccess() {
			continue
		}
		// One recipient failing never blocks the rest of the wave.
		failed++
		log.Printf("delivery: document=%s recipient=%s failed status=%d err=%v",
			doc.ID, recipient, result.StatusCode, result.Error)
	}

	// The latch closes even with partial failures: one attempt wave per
	// document is the ceiling. Retrying failed recipients would mean
	// duplicate sends to the ones that succeeded.
	sentAt := w.clock().UTC()
	if err := w.store.MarkSent(ctx, doc.ID, sentAt); err != nil {
		if errors.Is(err, ErrAlreadySent) {
			// A concurrent wave won the race. Duplicate sends to recipients
			// are the accepted cost; the latch itself closed exactly once.
			log.Printf("delivery: document=%s already sent by concurrent wave", doc.ID)
			w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeSkipped)
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("delivery: document=%s deleted mid-wave", doc.ID)
			w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeSkipped)
			return nil
		}
		w.recordOutcome(ctx, doc.ID, domain.WaveOutcomeDeferred)
		return fmt.Errorf("mark sent: %w", err)
	}

	outcome := domain.WaveOutcomeDelivered
	if failed > 0 {
		outcome = domain.WaveOutcomePartial
	}
	w.recordOutcome(ctx, doc.ID, outcome)
	log.Printf("delivery: document=%s sent recipients=%d failed=%d source=%s",
		doc.ID, len(recipients), failed, req.Source)
	return nil
}

func (w *Worker) recordOutcome(ctx context.Context, documentID uuid.UUID, outcome domain.WaveOutcome) {
	if w.metrics != nil {
		w.metrics.WaveCompleted(string(outcome))
	}
	if w.analytics != nil {
		w.analytics.Record(ctx, documentID, outcome)
	}
}
