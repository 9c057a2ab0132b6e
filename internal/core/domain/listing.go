package domain

import "time"

type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingClaimed   ListingStatus = "claimed"
	ListingInHandoff ListingStatus = "in_handoff"
	ListingCompleted ListingStatus = "completed"
	ListingCancelled ListingStatus = "cancelled"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Listing struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Description string        `json:"description"`
	Coord       Coordinate    `json:"coord"`
	Status      ListingStatus `json:"status"`
	Version     int64         `json:"version"` // optimistic locking
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Terminal reports whether the listing can accept no further transitions.
func (l *Listing) Terminal() bool {
	return l.Status == ListingCompleted || l.Status == ListingCancelled
}
