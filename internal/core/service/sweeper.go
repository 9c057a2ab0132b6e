package service

import (
	"context"
	"log"
	"time"
)

// Sweeper proactively cancels sessions stuck in handoff past the maximum
// dwell time, returning their listings to Available, and evicts terminal
// listings past the retention window.
type Sweeper struct {
	registry  *ListingRegistry
	machine   *ExchangeSessionMachine
	interval  time.Duration
	maxDwell  time.Duration
	retention time.Duration
}

func NewSweeper(registry *ListingRegistry, machine *ExchangeSessionMachine, interval, maxDwell, retention time.Duration) *Sweeper {
	return &Sweeper{
		registry:  registry,
		machine:   machine,
		interval:  interval,
		maxDwell:  maxDwell,
		retention: retention,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, sessionID := range s.registry.StaleHandoffSessions(s.maxDwell) {
		if err := s.machine.Cancel(ctx, sessionID, "handoff dwell time exceeded"); err != nil {
			log.Printf("sweeper: cancel stale session %s: %v", sessionID, err)
		} else {
			log.Printf("sweeper: cancelled stale session %s", sessionID)
		}
	}

	if n := s.registry.EvictTerminal(s.retention); n > 0 {
		log.Printf("sweeper: evicted %d archived listings", n)
	}
}
