package domain

import "time"

type SessionState string

const (
	SessionClaimed   SessionState = "claimed"
	SessionInHandoff SessionState = "in_handoff"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
)

// ExchangeSession binds one claimant to one listing. A listing has at most
// one non-terminal session at any time.
type ExchangeSession struct {
	ID         string             `json:"id"`
	ListingID  string             `json:"listing_id"`
	ClaimantID string             `json:"claimant_id"`
	State      SessionState       `json:"state"`
	Token      *VerificationToken `json:"token,omitempty"`
	Version    int64              `json:"version"` // optimistic locking
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Terminal reports whether the session can accept no further transitions.
func (s *ExchangeSession) Terminal() bool {
	return s.State == SessionCompleted || s.State == SessionCancelled
}
