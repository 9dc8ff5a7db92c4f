package events

import "time"

// Operation lifecycle states carried on events.
const (
	StateSubmitted = "submitted"
	StateConfirmed = "confirmed"
	StateTimedOut  = "timed_out"
	StateCancelled = "cancelled"
)

// OperationEvent represents an operation lifecycle event published to NATS.
// This is published to the subject "ops.{address}" in JetStream.
type OperationEvent struct {
	// Operation identifiers
	OperationID   string `json:"operation_id"`
	TransactionID string `json:"transaction_id"`

	// Account information
	Address string `json:"address"`

	// Operation details
	Kind              string `json:"kind"`
	TokenID           string `json:"token_id,omitempty"`
	Amount            uint64 `json:"amount"`
	CollateralTokenID string `json:"collateral_token_id,omitempty"`
	CollateralAmount  uint64 `json:"collateral_amount,omitempty"`

	// Lifecycle
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`

	// Timing information
	SubmittedAt time.Time `json:"submitted_at"`
	PublishedAt time.Time `json:"published_at"`
}
