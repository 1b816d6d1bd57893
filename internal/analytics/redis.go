// Package analytics records delivery outcomes in Redis as daily counters.
// Best effort only: failures are logged, never propagated.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
)

// DefaultRetention is how long daily counters live.
const DefaultRetention = 90 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

// Record increments the per-day counter for the outcome and, for settled
// waves, the per-document outcome key used by the dashboard.
func (s *RedisSink) Record(ctx context.Context, documentID uuid.UUID, outcome domain.WaveOutcome) {
	day := s.clock().UTC().Format("20060102")
	dayKey := fmt.Sprintf("futuremsg:waves:%s:%s", day, outcome)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, s.retention)

	if outcome == domain.WaveOutcomeDelivered || outcome == domain.WaveOutcomePartial {
		docKey := fmt.Sprintf("futuremsg:doc:%s:outcome", documentID)
		pipe.Set(ctx, docKey, string(outcome), s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: failed to record outcome for document=%s: %v", documentID, err)
	}
}
