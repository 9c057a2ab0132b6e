package port

import (
	"context"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// RemoteStore is the remote document store holding the authoritative copy
// of listings and sessions. Writes are compare-and-set on the version field.
type RemoteStore interface {
	// Apply writes one mutation. Returns domain.ErrConflict when the stored
	// version does not match the mutation's expected version,
	// domain.ErrRemoteUnavailable on transient failures and
	// domain.ErrMalformedPayload on permanent rejections.
	Apply(ctx context.Context, m domain.PendingMutation) error

	// GetListing retrieves a listing document, nil if absent
	GetListing(ctx context.Context, id string) (*domain.Listing, error)

	// GetSession retrieves a session document, nil if absent
	GetSession(ctx context.Context, id string) (*domain.ExchangeSession, error)
}
