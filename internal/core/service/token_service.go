package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
	"github.com/tdn1104/swapmeet/internal/port"
)

// usedFlagGrace keeps the used flag alive past token expiry so a consumed
// token can never validate again even with clock skew.
const usedFlagGrace = time.Hour

// VerificationTokenService issues single-use handoff tokens and validates
// the scannable payloads built from them. Payload format:
//
//	sessionID|value|expiryUnix|signature
//
// where signature is hex HMAC-SHA256 over the first three fields.
type VerificationTokenService struct {
	secret []byte
	cache  port.CacheRepository
}

func NewVerificationTokenService(secret []byte, cache port.CacheRepository) *VerificationTokenService {
	return &VerificationTokenService{secret: secret, cache: cache}
}

// Issue produces a fresh token bound to the session and the encoded
// scannable payload for it.
func (s *VerificationTokenService) Issue(sessionID string, ttl time.Duration) (*domain.VerificationToken, string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	token := &domain.VerificationToken{
		Value:     hex.EncodeToString(buf),
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(ttl),
	}
	return token, s.Encode(token), nil
}

// Encode renders the scannable payload for a token.
func (s *VerificationTokenService) Encode(t *domain.VerificationToken) string {
	expiry := strconv.FormatInt(t.ExpiresAt.Unix(), 10)
	body := t.SessionID + "|" + t.Value + "|" + expiry
	return body + "|" + s.sign(body)
}

// Check verifies a presented payload against the session's outstanding
// token without consuming it. Returns domain.ErrMalformedPayload,
// domain.ErrTokenExpired or domain.ErrTokenMismatch on failure. An expired
// payload reports expired even when its value no longer matches the
// current token, so a stale scan steers the caller to reissue.
func (s *VerificationTokenService) Check(token *domain.VerificationToken, sessionID, payload string) error {
	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return domain.ErrMalformedPayload
	}
	body := parts[0] + "|" + parts[1] + "|" + parts[2]
	if !hmac.Equal([]byte(s.sign(body)), []byte(parts[3])) {
		return domain.ErrMalformedPayload
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.ErrMalformedPayload
	}

	if token == nil || parts[0] != sessionID || token.SessionID != sessionID {
		return domain.ErrTokenMismatch
	}

	now := time.Now()
	if now.Unix() > expiry {
		return domain.ErrTokenExpired
	}
	if parts[1] != token.Value {
		return domain.ErrTokenMismatch
	}
	if token.Expired(now) {
		return domain.ErrTokenExpired
	}
	if token.Used {
		return domain.ErrTokenMismatch
	}
	return nil
}

// Consume atomically flips the single-use flag through the shared cache.
// Returns domain.ErrTokenMismatch when the token was already consumed,
// possibly by another instance.
func (s *VerificationTokenService) Consume(ctx context.Context, token *domain.VerificationToken) error {
	ttl := time.Until(token.ExpiresAt) + usedFlagGrace
	ok, err := s.cache.MarkTokenUsed(ctx, token.Value, ttl)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if !ok {
		return domain.ErrTokenMismatch
	}

	token.Used = true
	return nil
}

// Validate checks a presented payload and consumes the token in one step;
// once it returns nil the same payload never validates again.
func (s *VerificationTokenService) Validate(ctx context.Context, token *domain.VerificationToken, sessionID, payload string) error {
	if err := s.Check(token, sessionID, payload); err != nil {
		return err
	}
	return s.Consume(ctx, token)
}

func (s *VerificationTokenService) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
