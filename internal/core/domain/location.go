package domain

import "time"

// UserLocation is the latest known position of a user. Ephemeral: each
// update overwrites the previous sample.
type UserLocation struct {
	UserID     string     `json:"user_id"`
	Coord      Coordinate `json:"coord"`
	ObservedAt time.Time  `json:"observed_at"`
}
