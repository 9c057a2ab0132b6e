package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// ListingRegistry is the authoritative in-memory view of listings and their
// claim state. All mutating operations on one listing are serialized by a
// per-listing lock, so concurrent claims produce exactly one winner.
// Accepted transitions are appended to the sync queue before the in-memory
// state commits; a failed append leaves the registry untouched.
type ListingRegistry struct {
	queue  *SyncQueue
	events *NotificationDispatcher

	mu       sync.Mutex
	listings map[string]*domain.Listing
	sessions map[string]*domain.ExchangeSession
	active   map[string]string // listing id -> non-terminal session id
	locks    map[string]*sync.Mutex
}

func NewListingRegistry(queue *SyncQueue, events *NotificationDispatcher) *ListingRegistry {
	return &ListingRegistry{
		queue:    queue,
		events:   events,
		listings: make(map[string]*domain.Listing),
		sessions: make(map[string]*domain.ExchangeSession),
		active:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

// CreateListing registers a new offer as Available at version 0.
func (r *ListingRegistry) CreateListing(ctx context.Context, ownerID, description string, coord domain.Coordinate) (*domain.Listing, error) {
	now := time.Now()
	l := &domain.Listing{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Description: description,
		Coord:       coord,
		Status:      domain.ListingAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m, err := listingMutation(l, domain.InsertVersion)
	if err != nil {
		return nil, err
	}
	if err := r.queue.Enqueue(ctx, m); err != nil {
		return nil, fmt.Errorf("queue listing create: %w", err)
	}

	r.mu.Lock()
	r.listings[l.ID] = l
	r.mu.Unlock()

	r.events.Notify(domain.Event{
		Type: domain.EventListingCreated, ListingID: l.ID, OwnerID: ownerID, At: now,
	})

	out := *l
	return &out, nil
}

// Claim binds a claimant to an Available listing. Succeeds only if
// expectedVersion matches the current version; exactly one of any set of
// concurrent claims wins, the rest get domain.ErrConflict.
func (r *ListingRegistry) Claim(ctx context.Context, listingID, claimantID string, expectedVersion int64) (*domain.ExchangeSession, error) {
	lk := r.lockFor(listingID)
	lk.Lock()
	defer lk.Unlock()

	l := r.listing(listingID)
	if l == nil {
		return nil, domain.ErrNotFound
	}
	if l.OwnerID == claimantID {
		return nil, fmt.Errorf("%w: owner cannot claim own listing", domain.ErrInvalidState)
	}
	if l.Status != domain.ListingAvailable || l.Version != expectedVersion {
		return nil, domain.ErrConflict
	}

	now := time.Now()
	sess := &domain.ExchangeSession{
		ID:         uuid.NewString(),
		ListingID:  listingID,
		ClaimantID: claimantID,
		State:      domain.SessionClaimed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	next := *l
	next.Status = domain.ListingClaimed
	next.Version++
	next.UpdatedAt = now

	lm, err := listingMutation(&next, l.Version)
	if err != nil {
		return nil, err
	}
	sm, err := sessionMutation(sess, domain.InsertVersion)
	if err != nil {
		return nil, err
	}
	if err := r.queue.Enqueue(ctx, lm, sm); err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}

	*l = next
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.active[listingID] = sess.ID
	r.mu.Unlock()

	r.events.Notify(domain.Event{
		Type: domain.EventClaimed, ListingID: listingID, SessionID: sess.ID,
		OwnerID: l.OwnerID, ClaimantID: claimantID, At: now,
	})

	out := *sess
	return &out, nil
}

// Release returns a Claimed listing to Available when the claimant backs
// out. Not allowed once the handoff has begun.
func (r *ListingRegistry) Release(ctx context.Context, sessionID string) error {
	sess, lk := r.lockSession(sessionID)
	if sess == nil {
		return domain.ErrNotFound
	}
	defer lk.Unlock()

	if sess.State != domain.SessionClaimed {
		return fmt.Errorf("%w: release requires a claimed session, got %s", domain.ErrInvalidState, sess.State)
	}

	l := r.listing(sess.ListingID)
	now := time.Now()

	nextSess := *sess
	nextSess.State = domain.SessionCancelled
	nextSess.Version++
	nextSess.UpdatedAt = now

	nextList := *l
	nextList.Status = domain.ListingAvailable
	nextList.Version++
	nextList.UpdatedAt = now

	lm, err := listingMutation(&nextList, l.Version)
	if err != nil {
		return err
	}
	sm, err := sessionMutation(&nextSess, sess.Version)
	if err != nil {
		return err
	}
	if err := r.queue.Enqueue(ctx, lm, sm); err != nil {
		return fmt.Errorf("queue release: %w", err)
	}

	*l = nextList
	*sess = nextSess
	r.mu.Lock()
	delete(r.active, l.ID)
	r.mu.Unlock()

	r.events.Notify(domain.Event{
		Type: domain.EventReleased, ListingID: l.ID, SessionID: sessionID,
		OwnerID: l.OwnerID, ClaimantID: sess.ClaimantID, At: now,
	})
	return nil
}

// CancelListing withdraws an offer. Only the owner may cancel, and only
// while no active session holds the claim.
func (r *ListingRegistry) CancelListing(ctx context.Context, listingID, ownerID string) error {
	lk := r.lockFor(listingID)
	lk.Lock()
	defer lk.Unlock()

	l := r.listing(listingID)
	if l == nil {
		return domain.ErrNotFound
	}
	if l.OwnerID != ownerID {
		return fmt.Errorf("%w: only the owner may cancel", domain.ErrInvalidState)
	}
	if l.Terminal() {
		return fmt.Errorf("%w: listing already %s", domain.ErrInvalidState, l.Status)
	}

	r.mu.Lock()
	_, hasActive := r.active[listingID]
	r.mu.Unlock()
	if hasActive {
		// re-attempt after the active session resolves
		return fmt.Errorf("%w: listing has an active session", domain.ErrConflict)
	}

	now := time.Now()
	next := *l
	next.Status = domain.ListingCancelled
	next.Version++
	next.UpdatedAt = now

	lm, err := listingMutation(&next, l.Version)
	if err != nil {
		return err
	}
	if err := r.queue.Enqueue(ctx, lm); err != nil {
		return fmt.Errorf("queue cancel: %w", err)
	}

	*l = next
	r.events.Notify(domain.Event{
		Type: domain.EventCancelled, ListingID: listingID, OwnerID: ownerID, At: now,
	})
	return nil
}

// Get returns a copy of the listing.
func (r *ListingRegistry) Get(listingID string) (*domain.Listing, error) {
	lk := r.lockFor(listingID)
	lk.Lock()
	defer lk.Unlock()

	l := r.listing(listingID)
	if l == nil {
		return nil, domain.ErrNotFound
	}
	out := *l
	return &out, nil
}

// Session returns a copy of the session.
func (r *ListingRegistry) Session(sessionID string) (*domain.ExchangeSession, error) {
	sess, lk := r.lockSession(sessionID)
	if sess == nil {
		return nil, domain.ErrNotFound
	}
	defer lk.Unlock()

	out := *sess
	return &out, nil
}

// Snapshot returns a copy of every known listing, for matching.
func (r *ListingRegistry) Snapshot() []domain.Listing {
	r.mu.Lock()
	ids := make([]string, 0, len(r.listings))
	for id := range r.listings {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make([]domain.Listing, 0, len(ids))
	for _, id := range ids {
		lk := r.lockFor(id)
		lk.Lock()
		if l := r.listing(id); l != nil {
			out = append(out, *l)
		}
		lk.Unlock()
	}
	return out
}

// AdoptRemote replaces the local listing with the remote document after a
// sync conflict. Any active local session orphaned by the remote state is
// cancelled; the claimant must claim afresh.
func (r *ListingRegistry) AdoptRemote(remote domain.Listing) {
	lk := r.lockFor(remote.ID)
	lk.Lock()
	defer lk.Unlock()

	l := remote
	r.mu.Lock()
	r.listings[remote.ID] = &l
	sid, hasActive := r.active[remote.ID]
	sess := r.sessions[sid]
	r.mu.Unlock()

	if hasActive && remote.Status != domain.ListingClaimed && remote.Status != domain.ListingInHandoff {
		if sess != nil {
			sess.State = domain.SessionCancelled
			sess.UpdatedAt = time.Now()
		}
		r.mu.Lock()
		delete(r.active, remote.ID)
		r.mu.Unlock()
	}
}

// StaleHandoffSessions lists sessions sitting in the handoff state longer
// than the given dwell time.
func (r *ListingRegistry) StaleHandoffSessions(olderThan time.Duration) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	cut := time.Now().Add(-olderThan)
	var out []string
	for _, id := range ids {
		sess, lk := r.lockSession(id)
		if sess == nil {
			continue
		}
		if sess.State == domain.SessionInHandoff && sess.UpdatedAt.Before(cut) {
			out = append(out, id)
		}
		lk.Unlock()
	}
	return out
}

// EvictTerminal drops completed and cancelled listings older than the
// retention window from the in-memory view, along with their sessions.
// The remote store keeps the archived documents.
func (r *ListingRegistry) EvictTerminal(retention time.Duration) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.listings))
	for id := range r.listings {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	cut := time.Now().Add(-retention)
	evicted := 0
	for _, id := range ids {
		lk := r.lockFor(id)
		lk.Lock()
		l := r.listing(id)
		if l != nil && l.Terminal() && l.UpdatedAt.Before(cut) {
			r.mu.Lock()
			delete(r.listings, id)
			delete(r.active, id)
			for sid, s := range r.sessions {
				if s.ListingID == id {
					delete(r.sessions, sid)
				}
			}
			delete(r.locks, id)
			r.mu.Unlock()
			evicted++
		}
		lk.Unlock()
	}
	return evicted
}

// lockFor returns the per-listing mutex, creating it lazily.
func (r *ListingRegistry) lockFor(listingID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[listingID]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[listingID] = lk
	}
	return lk
}

func (r *ListingRegistry) listing(listingID string) *domain.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listings[listingID]
}

// lockSession resolves a session and acquires its listing's lock. The
// returned session pointer is only valid while the lock is held. Returns
// (nil, nil) if the session is unknown.
func (r *ListingRegistry) lockSession(sessionID string) (*domain.ExchangeSession, *sync.Mutex) {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	r.mu.Unlock()
	if sess == nil {
		return nil, nil
	}

	lk := r.lockFor(sess.ListingID)
	lk.Lock()

	// the session may have been evicted while acquiring the lock
	r.mu.Lock()
	cur := r.sessions[sessionID]
	r.mu.Unlock()
	if cur == nil {
		lk.Unlock()
		return nil, nil
	}
	return cur, lk
}

func listingMutation(l *domain.Listing, expected int64) (domain.PendingMutation, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return domain.PendingMutation{}, fmt.Errorf("marshal listing: %w", err)
	}
	return domain.PendingMutation{
		ID:              uuid.NewString(),
		EntityID:        l.ID,
		Kind:            domain.MutationPutListing,
		Payload:         payload,
		ExpectedVersion: expected,
		CreatedAt:       time.Now(),
	}, nil
}

func sessionMutation(s *domain.ExchangeSession, expected int64) (domain.PendingMutation, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return domain.PendingMutation{}, fmt.Errorf("marshal session: %w", err)
	}
	return domain.PendingMutation{
		ID:              uuid.NewString(),
		EntityID:        s.ID,
		Kind:            domain.MutationPutSession,
		Payload:         payload,
		ExpectedVersion: expected,
		CreatedAt:       time.Now(),
	}, nil
}
