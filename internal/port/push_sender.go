package port

import (
	"context"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// PushSender forwards an event to the external push-delivery service.
// Delivery is at-least-once; duplicates are acceptable.
type PushSender interface {
	Send(ctx context.Context, recipientID string, event domain.Event) error
}
