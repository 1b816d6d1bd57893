package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is a future message: an opaque title/content payload delivered to
// its collaborators at DeliveryDate. The delivery fields (DeliveryDate,
// IsSent, SentAt) form the ledger the scheduling core operates on.
type Document struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Title   string
	Content string

	DeliveryDate time.Time

	// IsSent is a one-way latch: false until the document's delivery wave
	// completes, true forever after. SentAt is set in the same write.
	IsSent bool
	SentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the document is eligible for delivery at t.
func (d Document) Due(t time.Time) bool {
	return !d.IsSent && !t.Before(d.DeliveryDate)
}
