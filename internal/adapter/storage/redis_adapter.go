package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

const (
	tokenUsedKeyPrefix = "token:used:"
	locationKeyPrefix  = "location:"
	locationTTL        = 30 * time.Minute
)

// RedisAdapter holds the ephemeral fast-path state: single-use flags for
// verification tokens and the latest location sample per user.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// MarkTokenUsed flips the used flag exactly once. SETNX makes the consume
// atomic: the first caller gets true, everyone after gets false.
func (r *RedisAdapter) MarkTokenUsed(ctx context.Context, tokenValue string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, tokenUsedKeyPrefix+tokenValue, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	return ok, nil
}

// StoreLocation overwrites the latest sample for a user.
func (r *RedisAdapter) StoreLocation(ctx context.Context, loc domain.UserLocation) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	if err := r.client.Set(ctx, locationKeyPrefix+loc.UserID, data, locationTTL).Err(); err != nil {
		return fmt.Errorf("store location: %w", err)
	}
	return nil
}

// LatestLocation retrieves the current sample, nil if none is known.
func (r *RedisAdapter) LatestLocation(ctx context.Context, userID string) (*domain.UserLocation, error) {
	data, err := r.client.Get(ctx, locationKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}

	var loc domain.UserLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	return &loc, nil
}
