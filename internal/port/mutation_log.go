package port

import (
	"context"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// MutationLog is the durable local buffer behind the sync queue. Entries
// survive process restart and are replayed in original order.
type MutationLog interface {
	// Append stores the given mutations atomically (all or none)
	Append(ctx context.Context, ms ...domain.PendingMutation) error

	// Pending returns all unflushed mutations ordered by entity id, then seq
	Pending(ctx context.Context) ([]domain.PendingMutation, error)

	// MarkAttempt records a failed delivery attempt
	MarkAttempt(ctx context.Context, id string, retryCount int, at time.Time) error

	// Remove deletes a confirmed or dropped mutation
	Remove(ctx context.Context, id string) error
}
