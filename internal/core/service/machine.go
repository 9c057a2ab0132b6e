package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// ExchangeSessionMachine drives a session through
// Claimed -> InHandoff -> Completed, with cancellation as the only other
// exit. Transitions run inside the registry's per-listing critical section
// and commit in memory only after the matching mutations are queued.
type ExchangeSessionMachine struct {
	registry *ListingRegistry
	tokens   *VerificationTokenService
	tokenTTL time.Duration
}

func NewExchangeSessionMachine(registry *ListingRegistry, tokens *VerificationTokenService, tokenTTL time.Duration) *ExchangeSessionMachine {
	return &ExchangeSessionMachine{registry: registry, tokens: tokens, tokenTTL: tokenTTL}
}

// BeginHandoff moves a Claimed session into InHandoff and issues a
// verification token, returning the scannable payload. Calling it again on
// an InHandoff session reissues the token (the previous one, expired or
// not, stops matching).
func (m *ExchangeSessionMachine) BeginHandoff(ctx context.Context, sessionID string) (string, error) {
	sess, lk := m.registry.lockSession(sessionID)
	if sess == nil {
		return "", domain.ErrNotFound
	}
	defer lk.Unlock()

	if sess.State != domain.SessionClaimed && sess.State != domain.SessionInHandoff {
		return "", fmt.Errorf("%w: begin handoff from %s", domain.ErrInvalidState, sess.State)
	}

	token, payload, err := m.tokens.Issue(sessionID, m.tokenTTL)
	if err != nil {
		return "", err
	}

	now := time.Now()
	nextSess := *sess
	nextSess.State = domain.SessionInHandoff
	nextSess.Token = token
	nextSess.Version++
	nextSess.UpdatedAt = now

	sm, err := sessionMutation(&nextSess, sess.Version)
	if err != nil {
		return "", err
	}
	ms := []domain.PendingMutation{sm}

	l := m.registry.listing(sess.ListingID)
	var nextList domain.Listing
	listingChanged := sess.State == domain.SessionClaimed
	if listingChanged {
		nextList = *l
		nextList.Status = domain.ListingInHandoff
		nextList.Version++
		nextList.UpdatedAt = now

		lm, err := listingMutation(&nextList, l.Version)
		if err != nil {
			return "", err
		}
		ms = append(ms, lm)
	}

	if err := m.registry.queue.Enqueue(ctx, ms...); err != nil {
		return "", fmt.Errorf("queue handoff: %w", err)
	}

	*sess = nextSess
	if listingChanged {
		*l = nextList
	}

	m.registry.events.Notify(domain.Event{
		Type: domain.EventHandoffStarted, ListingID: l.ID, SessionID: sessionID,
		OwnerID: l.OwnerID, ClaimantID: sess.ClaimantID, At: now,
	})
	return payload, nil
}

// Verify closes the handoff: if the presented payload matches the session's
// unused, unexpired token the session completes and the token is consumed.
// A mismatch or expiry leaves the session InHandoff so the parties can
// re-scan or reissue.
func (m *ExchangeSessionMachine) Verify(ctx context.Context, sessionID, payload string) error {
	sess, lk := m.registry.lockSession(sessionID)
	if sess == nil {
		return domain.ErrNotFound
	}
	defer lk.Unlock()

	if sess.State != domain.SessionInHandoff {
		return fmt.Errorf("%w: verify from %s", domain.ErrInvalidState, sess.State)
	}

	if err := m.tokens.Check(sess.Token, sessionID, payload); err != nil {
		return err
	}

	now := time.Now()
	usedToken := *sess.Token
	usedToken.Used = true

	nextSess := *sess
	nextSess.State = domain.SessionCompleted
	nextSess.Token = &usedToken
	nextSess.Version++
	nextSess.UpdatedAt = now

	l := m.registry.listing(sess.ListingID)
	nextList := *l
	nextList.Status = domain.ListingCompleted
	nextList.Version++
	nextList.UpdatedAt = now

	sm, err := sessionMutation(&nextSess, sess.Version)
	if err != nil {
		return err
	}
	lm, err := listingMutation(&nextList, l.Version)
	if err != nil {
		return err
	}
	if err := m.registry.queue.Enqueue(ctx, sm, lm); err != nil {
		return fmt.Errorf("queue completion: %w", err)
	}

	// consume only after the completion is durably queued; a failed append
	// leaves the token valid for an honest retry with the same code. From
	// here the terminal session state gates further verifies.
	if err := m.tokens.Consume(ctx, sess.Token); err != nil {
		log.Printf("verify: consume token for session %s: %v", sessionID, err)
	}

	*sess = nextSess
	*l = nextList
	m.registry.mu.Lock()
	delete(m.registry.active, l.ID)
	m.registry.mu.Unlock()

	m.registry.events.Notify(domain.Event{
		Type: domain.EventCompleted, ListingID: l.ID, SessionID: sessionID,
		OwnerID: l.OwnerID, ClaimantID: sess.ClaimantID, At: now,
	})
	return nil
}

// Cancel aborts a Claimed or InHandoff session, invalidates any outstanding
// token and returns the listing to Available. Terminal sessions reject the
// call.
func (m *ExchangeSessionMachine) Cancel(ctx context.Context, sessionID, reason string) error {
	sess, lk := m.registry.lockSession(sessionID)
	if sess == nil {
		return domain.ErrNotFound
	}
	defer lk.Unlock()

	if sess.Terminal() {
		return fmt.Errorf("%w: session already %s", domain.ErrInvalidState, sess.State)
	}

	now := time.Now()
	nextSess := *sess
	nextSess.State = domain.SessionCancelled
	nextSess.Token = nil
	nextSess.Version++
	nextSess.UpdatedAt = now

	l := m.registry.listing(sess.ListingID)
	nextList := *l
	nextList.Status = domain.ListingAvailable
	nextList.Version++
	nextList.UpdatedAt = now

	sm, err := sessionMutation(&nextSess, sess.Version)
	if err != nil {
		return err
	}
	lm, err := listingMutation(&nextList, l.Version)
	if err != nil {
		return err
	}
	if err := m.registry.queue.Enqueue(ctx, sm, lm); err != nil {
		return fmt.Errorf("queue cancellation: %w", err)
	}

	*sess = nextSess
	*l = nextList
	m.registry.mu.Lock()
	delete(m.registry.active, l.ID)
	m.registry.mu.Unlock()

	m.registry.events.Notify(domain.Event{
		Type: domain.EventCancelled, ListingID: l.ID, SessionID: sessionID,
		OwnerID: l.OwnerID, ClaimantID: sess.ClaimantID, Reason: reason, At: now,
	})
	return nil
}

// IsRecoverable reports whether a verify failure leaves the session open
// for another attempt.
func IsRecoverable(err error) bool {
	return errors.Is(err, domain.ErrTokenMismatch) || errors.Is(err, domain.ErrTokenExpired)
}
