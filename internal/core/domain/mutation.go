package domain

import (
	"encoding/json"
	"time"
)

type MutationKind string

const (
	MutationPutListing MutationKind = "put_listing"
	MutationPutSession MutationKind = "put_session"
)

// InsertVersion as ExpectedVersion marks a mutation that creates a new
// remote document rather than updating an existing one.
const InsertVersion int64 = -1

// PendingMutation is one entry in the local mutation log awaiting remote
// application. Entries for the same entity apply in Seq order.
type PendingMutation struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	Kind            MutationKind    `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Seq             int64           `json:"seq"`
	ExpectedVersion int64           `json:"expected_version"`
	RetryCount      int             `json:"retry_count"`
	LastAttempt     time.Time       `json:"last_attempt,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
