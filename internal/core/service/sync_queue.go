package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tdn1104/swapmeet/internal/core/domain"
	"github.com/tdn1104/swapmeet/internal/port"
)

const applyTimeout = 5 * time.Second

// ConflictResolver reconciles a local mutation whose expected version no
// longer matches the remote document. The mutation is dropped afterwards
// regardless; resolvers reload remote state, never merge silently.
type ConflictResolver func(ctx context.Context, m domain.PendingMutation) error

// SyncQueue is the offline-first reconciliation layer. Local mutations are
// appended to a durable log and drained per entity, in sequence order, by
// background workers. Transient remote failures retry with capped
// exponential backoff; conflicts invoke the resolver; permanent rejections
// drop the mutation and surface an event.
type SyncQueue struct {
	log        port.MutationLog
	remote     port.RemoteStore
	resolve    ConflictResolver
	maxBackoff time.Duration

	mu      sync.Mutex
	nextSeq map[string]int64
	queues  map[string]*entityQueue
	events  chan domain.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entityQueue struct {
	mu    sync.Mutex
	items []domain.PendingMutation
	wake  chan struct{}
}

// push inserts in seq order so the head is always the lowest pending seq,
// even when concurrent appends for the same entity land out of turn.
func (q *entityQueue) push(m domain.PendingMutation) {
	q.mu.Lock()
	i := len(q.items)
	for i > 0 && q.items[i-1].Seq > m.Seq {
		i--
	}
	q.items = append(q.items, domain.PendingMutation{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = m
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *entityQueue) head() (domain.PendingMutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.PendingMutation{}, false
	}
	return q.items[0], true
}

func (q *entityQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

func NewSyncQueue(mlog port.MutationLog, remote port.RemoteStore, resolve ConflictResolver, maxBackoff time.Duration) *SyncQueue {
	return &SyncQueue{
		log:        mlog,
		remote:     remote,
		resolve:    resolve,
		maxBackoff: maxBackoff,
		nextSeq:    make(map[string]int64),
		queues:     make(map[string]*entityQueue),
		events:     make(chan domain.Event, 256),
	}
}

// Events surfaces asynchronous queue outcomes (conflicts, dropped
// mutations). Closed by Stop.
func (s *SyncQueue) Events() <-chan domain.Event {
	return s.events
}

// Start reloads unflushed mutations from the durable log and resumes
// draining them in original order. Must be called before Enqueue.
func (s *SyncQueue) Start(ctx context.Context) error {
	pending, err := s.log.Pending(ctx)
	if err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	byEntity := make(map[string][]domain.PendingMutation)
	for _, m := range pending {
		byEntity[m.EntityID] = append(byEntity[m.EntityID], m)
	}

	s.mu.Lock()
	for entityID, ms := range byEntity {
		sort.Slice(ms, func(i, j int) bool { return ms[i].Seq < ms[j].Seq })
		s.nextSeq[entityID] = ms[len(ms)-1].Seq + 1

		q := s.queueFor(entityID)
		q.items = append(q.items, ms...)
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("sync queue: resumed %d pending mutations for %d entities", len(pending), len(byEntity))
	}
	return nil
}

// Stop drains no further; in-flight attempts are abandoned and resume from
// the durable log on next Start.
func (s *SyncQueue) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	close(s.events)
}

// Enqueue appends mutations to the durable log, assigning each the next
// local sequence number for its entity, and wakes the matching workers.
// The mutations are persisted atomically: either all are queued or none.
func (s *SyncQueue) Enqueue(ctx context.Context, ms ...domain.PendingMutation) error {
	if len(ms) == 0 {
		return nil
	}

	s.mu.Lock()
	for i := range ms {
		ms[i].Seq = s.nextSeq[ms[i].EntityID]
		s.nextSeq[ms[i].EntityID]++
	}
	s.mu.Unlock()

	if err := s.log.Append(ctx, ms...); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range ms {
		s.queueFor(m.EntityID).push(m)
	}
	s.mu.Unlock()
	return nil
}

// queueFor returns the entity's queue, spawning its drain worker on first
// use. Caller holds s.mu.
func (s *SyncQueue) queueFor(entityID string) *entityQueue {
	q, ok := s.queues[entityID]
	if !ok {
		q = &entityQueue{wake: make(chan struct{}, 1)}
		s.queues[entityID] = q
		s.wg.Add(1)
		go s.drain(entityID, q)
	}
	return q
}

func (s *SyncQueue) drain(entityID string, q *entityQueue) {
	defer s.wg.Done()

	for {
		m, ok := q.head()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		if !s.apply(m) {
			return
		}
		q.pop()
	}
}

// apply delivers one mutation, retrying transient failures until the
// context is cancelled. Returns false only on shutdown.
func (s *SyncQueue) apply(m domain.PendingMutation) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	if b.InitialInterval > s.maxBackoff {
		b.InitialInterval = s.maxBackoff
	}
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0 // retry until shutdown
	b.Reset()

	for {
		ctx, cancel := context.WithTimeout(s.ctx, applyTimeout)
		err := s.remote.Apply(ctx, m)
		cancel()

		switch {
		case err == nil:
			s.remove(m)
			return true

		case errors.Is(err, domain.ErrConflict):
			log.Printf("sync queue: conflict on %s seq %d: %v", m.EntityID, m.Seq, err)
			if s.resolve != nil {
				rctx, rcancel := context.WithTimeout(s.ctx, applyTimeout)
				if rerr := s.resolve(rctx, m); rerr != nil {
					log.Printf("sync queue: conflict resolution for %s failed: %v", m.EntityID, rerr)
				}
				rcancel()
			}
			s.remove(m)
			s.emit(domain.Event{Type: domain.EventSyncConflict, Reason: err.Error(), At: time.Now()}, m)
			return true

		case errors.Is(err, domain.ErrRemoteUnavailable):
			if s.ctx.Err() != nil {
				return false
			}
			m.RetryCount++
			m.LastAttempt = time.Now()
			if merr := s.log.MarkAttempt(s.ctx, m.ID, m.RetryCount, m.LastAttempt); merr != nil && s.ctx.Err() == nil {
				log.Printf("sync queue: mark attempt for %s failed: %v", m.ID, merr)
			}
			select {
			case <-time.After(b.NextBackOff()):
			case <-s.ctx.Done():
				return false
			}

		default:
			// permanent rejection
			log.Printf("sync queue: dropping mutation %s for %s: %v", m.ID, m.EntityID, err)
			s.remove(m)
			s.emit(domain.Event{Type: domain.EventSyncDropped, Reason: err.Error(), At: time.Now()}, m)
			return true
		}
	}
}

func (s *SyncQueue) remove(m domain.PendingMutation) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	if err := s.log.Remove(ctx, m.ID); err != nil {
		log.Printf("sync queue: remove %s from log failed: %v", m.ID, err)
	}
}

func (s *SyncQueue) emit(e domain.Event, m domain.PendingMutation) {
	switch m.Kind {
	case domain.MutationPutListing:
		e.ListingID = m.EntityID
	case domain.MutationPutSession:
		e.SessionID = m.EntityID
	}

	select {
	case s.events <- e:
	default:
		log.Printf("sync queue: event buffer full, dropping %s for %s", e.Type, m.EntityID)
	}
}
