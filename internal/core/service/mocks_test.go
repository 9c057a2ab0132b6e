package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// Mock MutationLog
type mockLog struct {
	mu        sync.Mutex
	entries   map[string]domain.PendingMutation
	failNext  bool
	appends   int
}

func newMockLog() *mockLog {
	return &mockLog{entries: make(map[string]domain.PendingMutation)}
}

func (m *mockLog) Append(ctx context.Context, ms ...domain.PendingMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return domain.ErrRemoteUnavailable
	}
	for _, mut := range ms {
		m.entries[mut.ID] = mut
	}
	m.appends += len(ms)
	return nil
}

func (m *mockLog) Pending(ctx context.Context) ([]domain.PendingMutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingMutation, 0, len(m.entries))
	for _, mut := range m.entries {
		out = append(out, mut)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *mockLog) MarkAttempt(ctx context.Context, id string, retryCount int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mut, ok := m.entries[id]; ok {
		mut.RetryCount = retryCount
		mut.LastAttempt = at
		m.entries[id] = mut
	}
	return nil
}

func (m *mockLog) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *mockLog) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Mock RemoteStore
type mockRemote struct {
	mu             sync.Mutex
	applied        []domain.PendingMutation
	transientLeft  map[string]int    // entity id -> remaining transient failures
	conflictEntity map[string]bool   // entity id -> always conflict
	permanentKind  map[domain.MutationKind]bool
	listings       map[string]domain.Listing
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		transientLeft:  make(map[string]int),
		conflictEntity: make(map[string]bool),
		permanentKind:  make(map[domain.MutationKind]bool),
		listings:       make(map[string]domain.Listing),
	}
}

func (m *mockRemote) Apply(ctx context.Context, mut domain.PendingMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transientLeft[mut.EntityID] > 0 {
		m.transientLeft[mut.EntityID]--
		return domain.ErrRemoteUnavailable
	}
	if m.conflictEntity[mut.EntityID] {
		return domain.ErrConflict
	}
	if m.permanentKind[mut.Kind] {
		return domain.ErrMalformedPayload
	}
	m.applied = append(m.applied, mut)
	return nil
}

func (m *mockRemote) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[id]; ok {
		out := l
		return &out, nil
	}
	return nil, nil
}

func (m *mockRemote) GetSession(ctx context.Context, id string) (*domain.ExchangeSession, error) {
	return nil, nil
}

func (m *mockRemote) appliedOrder() []domain.PendingMutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingMutation, len(m.applied))
	copy(out, m.applied)
	return out
}

// Mock CacheRepository
type mockCache struct {
	mu        sync.Mutex
	used      map[string]bool
	locations map[string]domain.UserLocation
}

func newMockCache() *mockCache {
	return &mockCache{
		used:      make(map[string]bool),
		locations: make(map[string]domain.UserLocation),
	}
}

func (m *mockCache) MarkTokenUsed(ctx context.Context, tokenValue string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[tokenValue] {
		return false, nil
	}
	m.used[tokenValue] = true
	return true, nil
}

func (m *mockCache) StoreLocation(ctx context.Context, loc domain.UserLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.UserID] = loc
	return nil
}

func (m *mockCache) LatestLocation(ctx context.Context, userID string) (*domain.UserLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.locations[userID]; ok {
		out := loc
		return &out, nil
	}
	return nil, nil
}

// Mock PushSender
type mockSender struct {
	mu    sync.Mutex
	sent  map[string][]domain.Event
	fails int // fail this many sends before succeeding
}

func newMockSender() *mockSender {
	return &mockSender{sent: make(map[string][]domain.Event)}
}

func (m *mockSender) Send(ctx context.Context, recipientID string, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return domain.ErrRemoteUnavailable
	}
	m.sent[recipientID] = append(m.sent[recipientID], event)
	return nil
}

func (m *mockSender) eventsFor(recipientID string) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.sent[recipientID]))
	copy(out, m.sent[recipientID])
	return out
}

// testCore wires the full core over mocks.
type testCore struct {
	registry   *ListingRegistry
	machine    *ExchangeSessionMachine
	tokens     *VerificationTokenService
	queue      *SyncQueue
	dispatcher *NotificationDispatcher
	log        *mockLog
	remote     *mockRemote
	cache      *mockCache
	sender     *mockSender
}

func newTestCore(t *testing.T, tokenTTL time.Duration) *testCore {
	t.Helper()

	mlog := newMockLog()
	remote := newMockRemote()
	cache := newMockCache()
	sender := newMockSender()

	queue := NewSyncQueue(mlog, remote, nil, 50*time.Millisecond)
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}

	dispatcher := NewNotificationDispatcher(sender, 64)
	go dispatcher.Run()

	registry := NewListingRegistry(queue, dispatcher)
	tokens := NewVerificationTokenService([]byte("test-secret"), cache)
	machine := NewExchangeSessionMachine(registry, tokens, tokenTTL)

	t.Cleanup(func() {
		queue.Stop()
		dispatcher.Close()
	})

	return &testCore{
		registry:   registry,
		machine:    machine,
		tokens:     tokens,
		queue:      queue,
		dispatcher: dispatcher,
		log:        mlog,
		remote:     remote,
		cache:      cache,
		sender:     sender,
	}
}
