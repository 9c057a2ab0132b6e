package port

import (
	"context"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

type CacheRepository interface {
	// MarkTokenUsed atomically flags a token value consumed, returns false if already used
	MarkTokenUsed(ctx context.Context, tokenValue string, ttl time.Duration) (bool, error)

	// StoreLocation overwrites the latest location sample for a user
	StoreLocation(ctx context.Context, loc domain.UserLocation) error

	// LatestLocation retrieves the current sample, nil if none is known
	LatestLocation(ctx context.Context, userID string) (*domain.UserLocation, error)
}
