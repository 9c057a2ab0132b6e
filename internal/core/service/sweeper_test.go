package service

import (
	"context"
	"testing"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

func TestSweep_CancelsStaleHandoffs(t *testing.T) {
	core := newTestCore(t, time.Minute)
	ctx := context.Background()

	l, sess := claimedSession(t, core)
	if _, err := core.machine.BeginHandoff(ctx, sess.ID); err != nil {
		t.Fatalf("begin handoff: %v", err)
	}

	sweeper := NewSweeper(core.registry, core.machine, time.Minute, 10*time.Millisecond, time.Hour)

	time.Sleep(30 * time.Millisecond)
	sweeper.Sweep(ctx)

	s, err := core.registry.Session(sess.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.State != domain.SessionCancelled {
		t.Errorf("expected stale session cancelled, got %s", s.State)
	}

	got, _ := core.registry.Get(l.ID)
	if got.Status != domain.ListingAvailable {
		t.Errorf("expected listing back to available, got %s", got.Status)
	}
}

func TestSweep_LeavesFreshHandoffsAlone(t *testing.T) {
	core := newTestCore(t, time.Minute)
	ctx := context.Background()

	_, sess := claimedSession(t, core)
	if _, err := core.machine.BeginHandoff(ctx, sess.ID); err != nil {
		t.Fatalf("begin handoff: %v", err)
	}

	sweeper := NewSweeper(core.registry, core.machine, time.Minute, time.Hour, time.Hour)
	sweeper.Sweep(ctx)

	s, _ := core.registry.Session(sess.ID)
	if s.State != domain.SessionInHandoff {
		t.Errorf("expected session untouched, got %s", s.State)
	}
}

func TestSweep_EvictsArchivedListings(t *testing.T) {
	core := newTestCore(t, time.Minute)
	ctx := context.Background()

	l, err := core.registry.CreateListing(ctx, "owner-1", "bike rack", vancouver)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if err := core.registry.CancelListing(ctx, l.ID, "owner-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sweeper := NewSweeper(core.registry, core.machine, time.Minute, time.Hour, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	sweeper.Sweep(ctx)

	if _, err := core.registry.Get(l.ID); err == nil {
		t.Error("expected archived listing evicted")
	}
}
