package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"social-gateway/models"
)

// ErrPendingNotFound covers a state value that is unknown, expired or
// already consumed. Callers cannot tell these apart, which is the point.
var ErrPendingNotFound = errors.New("pending authorization not found")

const pendingKeyPrefix = "oauth:pending:"

// PendingAuthTTL is how long a started flow may wait for its callback.
const PendingAuthTTL = 10 * time.Minute

// PendingAuthStore keeps in-flight OAuth attempts in redis, keyed by state
// with a TTL. Consume is a GETDEL so every state is single-use even when
// two callbacks race.
type PendingAuthStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPendingAuthStore(rdb *redis.Client) *PendingAuthStore {
	return &PendingAuthStore{rdb: rdb, ttl: PendingAuthTTL}
}

func (s *PendingAuthStore) Put(ctx context.Context, pending *models.PendingAuthorization) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return &StoreError{Op: "pending put", Err: err}
	}
	if err := s.rdb.Set(ctx, pendingKeyPrefix+pending.State, payload, s.ttl).Err(); err != nil {
		return &StoreError{Op: "pending put", Err: err}
	}
	return nil
}

func (s *PendingAuthStore) Consume(ctx context.Context, state string) (*models.PendingAuthorization, error) {
	payload, err := s.rdb.GetDel(ctx, pendingKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "pending consume", Err: err}
	}

	var pending models.PendingAuthorization
	if err := json.Unmarshal([]byte(payload), &pending); err != nil {
		return nil, &StoreError{Op: "pending consume", Err: err}
	}
	// Redis expiry is the primary guard; the timestamp check covers a
	// record written with a longer TTL by an older build.
	if time.Now().After(pending.ExpiresAt) {
		return nil, ErrPendingNotFound
	}
	return &pending, nil
}
