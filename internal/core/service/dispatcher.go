package service

import (
	"context"
	"log"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
	"github.com/tdn1104/swapmeet/internal/port"
)

const (
	pushTimeout      = 5 * time.Second
	pushMaxAttempts  = 3
	pushRetryBackoff = 200 * time.Millisecond
)

// NotificationDispatcher fans session-state-change events out to both
// parties through the push-delivery service. Best effort: delivery is
// at-least-once and failures are logged, not retried indefinitely.
type NotificationDispatcher struct {
	sender port.PushSender
	events chan domain.Event
}

func NewNotificationDispatcher(sender port.PushSender, bufferSize int) *NotificationDispatcher {
	return &NotificationDispatcher{
		sender: sender,
		events: make(chan domain.Event, bufferSize),
	}
}

// Notify queues an event for delivery. Never blocks; if the buffer is full
// the event is dropped and logged.
func (d *NotificationDispatcher) Notify(e domain.Event) {
	select {
	case d.events <- e:
	default:
		log.Printf("dispatcher: buffer full, dropping %s for listing %s", e.Type, e.ListingID)
	}
}

// Run drains the event buffer until Close is called. Intended to run as a
// background goroutine.
func (d *NotificationDispatcher) Run() {
	for e := range d.events {
		for _, recipient := range recipients(e) {
			d.deliver(recipient, e)
		}
	}
}

// Close stops Run after the buffer drains.
func (d *NotificationDispatcher) Close() {
	close(d.events)
}

func (d *NotificationDispatcher) deliver(recipientID string, e domain.Event) {
	for attempt := 1; attempt <= pushMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := d.sender.Send(ctx, recipientID, e)
		cancel()

		if err == nil {
			return
		}
		log.Printf("dispatcher: send %s to %s failed (attempt %d/%d): %v",
			e.Type, recipientID, attempt, pushMaxAttempts, err)

		if attempt < pushMaxAttempts {
			time.Sleep(time.Duration(attempt) * pushRetryBackoff)
		}
	}
}

func recipients(e domain.Event) []string {
	var out []string
	if e.OwnerID != "" {
		out = append(out, e.OwnerID)
	}
	if e.ClaimantID != "" && e.ClaimantID != e.OwnerID {
		out = append(out, e.ClaimantID)
	}
	return out
}
