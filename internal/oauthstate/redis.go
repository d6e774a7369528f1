package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "oauth:state:"

// RedisStore keeps states in Redis so every API instance sees the same set.
// Expiry is delegated to the key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis backed state store
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// StoreState issues a new state for userID
func (r *RedisStore) StoreState(ctx context.Context, userID string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}

	if err := r.client.Set(ctx, keyPrefix+state, userID, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return state, nil
}

// ValidateState consumes state with GETDEL and reports whether it was valid for userID
func (r *RedisStore) ValidateState(ctx context.Context, state, userID string) bool {
	stored, err := r.client.GetDel(ctx, keyPrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Warn("OAuth state not found or expired")
		} else {
			r.logger.Error("Failed to read OAuth state", zap.Error(err))
		}
		return false
	}

	if stored != userID {
		r.logger.Warn("OAuth state user mismatch",
			zap.String("expected_user_id", stored),
			zap.String("user_id", userID))
		return false
	}
	return true
}
