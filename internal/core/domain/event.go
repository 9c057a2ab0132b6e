package domain

import "time"

type EventType string

const (
	EventListingCreated EventType = "listing_created"
	EventClaimed        EventType = "claimed"
	EventReleased       EventType = "released"
	EventHandoffStarted EventType = "handoff_started"
	EventCompleted      EventType = "completed"
	EventCancelled      EventType = "cancelled"
	EventSyncConflict   EventType = "sync_conflict"
	EventSyncDropped    EventType = "sync_dropped"
)

// Event describes a state change pushed to the parties of an exchange.
type Event struct {
	Type       EventType `json:"type"`
	ListingID  string    `json:"listing_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	ClaimantID string    `json:"claimant_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
