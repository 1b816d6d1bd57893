package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryRequest asks the delivery worker to attempt one document.
// Source records which path produced the request ("trigger" or "sweep");
// both paths are safe to race because the worker re-checks the ledger.
type DeliveryRequest struct {
	DocumentID uuid.UUID
	FiredAt    time.Time
	Source     string
}

const (
	SourceTrigger = "trigger"
	SourceSweep   = "sweep"
)

// SendAttempt records one call to the email provider for one recipient.
// Attempts are append-only history; eligibility never depends on them.
type SendAttempt struct {
	ID         uuid.UUID
	DocumentID uuid.UUID

	RecipientEmail string
	StatusCode     int
	Error          string

	StartedAt  time.Time
	FinishedAt time.Time
}

// WaveOutcome classifies one full delivery wave for a document.
type WaveOutcome string

const (
	WaveOutcomeDelivered WaveOutcome = "delivered" // every recipient accepted
	WaveOutcomePartial   WaveOutcome = "partial"   // latch closed, some sends failed
	WaveOutcomeSkipped   WaveOutcome = "skipped"   // no-op: gone, already sent, or not due
	WaveOutcomeDeferred  WaveOutcome = "deferred"  // infrastructure error, still pending
)
