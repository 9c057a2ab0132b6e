package domain

import "time"

// VerificationToken is a single-use secret proving a handoff occurred.
// Once Used is set it never transitions back.
type VerificationToken struct {
	Value     string    `json:"value"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Expired reports whether the token is past its ttl at the given instant.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
