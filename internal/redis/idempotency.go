package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyTTL is how long an Idempotency-Key on the ingest endpoint is remembered.
const IdempotencyTTL = 5 * time.Minute

// ErrDuplicateRequest is returned when an idempotency key was already used.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// Idempotency remembers which event id an ingest Idempotency-Key produced.
type Idempotency struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewIdempotency(client *Client, logger *zap.Logger, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = IdempotencyTTL
	}
	return &Idempotency{client: client, logger: logger, ttl: ttl}
}

// Reserve binds key to eventID. If key is already bound it returns the
// original event id with ErrDuplicateRequest.
func (s *Idempotency) Reserve(ctx context.Context, key, eventID string) (string, error) {
	redisKey := s.key(key)

	set, err := s.client.rdb.SetNX(ctx, redisKey, eventID, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx failed: %w", err)
	}
	if set {
		return eventID, nil
	}

	existing, err := s.client.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the caller may simply retry
		return "", ErrDuplicateRequest
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	s.logger.Debug("idempotency key hit",
		zap.String("idempotency_key", key),
		zap.String("event_id", existing),
	)
	return existing, ErrDuplicateRequest
}

// Release forgets key so a client can retry an event that failed to enqueue.
func (s *Idempotency) Release(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *Idempotency) key(k string) string {
	return keyPrefix + "idempotency:" + k
}
