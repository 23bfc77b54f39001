package paymentwebhook

import (
	"context"
	"errors"
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/redis"
)

const guardScope = "evt:processed:payments"

// Guard deduplicates webhook deliveries by event id using Redis SETNX with
// a TTL. A marked event is released again when the handler fails so the
// provider's retry can reprocess it.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard builds the idempotency guard. TTL bounds how long a processed
// event id is remembered.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true when the event was already processed, otherwise
// marks it as processed.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(guardScope, eventID), "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete releases the processed mark for an event.
func (g *Guard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(guardScope, eventID))
}
