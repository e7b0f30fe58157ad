package escrow

import (
	"errors"
	"time"
)

// Sentinel errors for hold lifecycle operations.
var (
	ErrNotFound             = errors.New("hold not found")
	ErrInvalidState         = errors.New("operation not valid in current hold state")
	ErrInvalidReleaseDate   = errors.New("release date must be in the future")
	ErrMissingOfferSequence = errors.New("hold has no confirmed offer sequence")
	ErrTooEarlyToCancel     = errors.New("cancel window has not opened yet")
)

// HoldKind distinguishes the event-level funding hold from per-participant
// holds.
type HoldKind string

const (
	KindMainEvent   HoldKind = "MainEvent"
	KindParticipant HoldKind = "Participant"
)

// HoldState is the lifecycle state of a conditional hold. Transitions are
// monotonic: no state is re-entered after leaving it, except by retrying
// the same pending signing request.
type HoldState string

const (
	StatePending       HoldState = "Pending"
	StateActive        HoldState = "Active"
	StateFinishPending HoldState = "FinishPending"
	StateCancelPending HoldState = "CancelPending"
	StateFinished      HoldState = "Finished"
	StateCancelled     HoldState = "Cancelled"
	StateFailed        HoldState = "Failed"
)

// Terminal reports whether a state admits no further transitions.
func (s HoldState) Terminal() bool {
	switch s {
	case StateFinished, StateCancelled, StateFailed:
		return true
	}
	return false
}

// ConditionalHold is the durable record of one ledger-anchored conditional
// hold. Rows are never deleted; they are the audit trail.
//
// Exactly one of the three signing ids is the active outstanding request at
// any time. The fulfillment is sensitive: it is only ever placed into an
// outgoing finish transaction and is excluded from JSON surfaces.
type ConditionalHold struct {
	ID            string   `json:"id" cbor:"id"`
	EventID       string   `json:"event_id" cbor:"event_id"`
	ParticipantID string   `json:"participant_id,omitempty" cbor:"participant_id,omitempty"`
	Kind          HoldKind `json:"kind" cbor:"kind"`

	SourceAddress      string  `json:"source_address" cbor:"source_address"`
	DestinationAddress string  `json:"destination_address" cbor:"destination_address"`
	Amount             float64 `json:"amount" cbor:"amount"`

	Condition   string `json:"condition" cbor:"condition"`
	Fulfillment string `json:"-" cbor:"fulfillment"`

	// FinishAfter and CancelAfter are ledger times bounding when the hold
	// may be finished or reclaimed.
	FinishAfter uint32 `json:"finish_after" cbor:"finish_after"`
	CancelAfter uint32 `json:"cancel_after" cbor:"cancel_after"`

	CreateSigningID string `json:"create_signing_id,omitempty" cbor:"create_signing_id,omitempty"`
	FinishSigningID string `json:"finish_signing_id,omitempty" cbor:"finish_signing_id,omitempty"`
	CancelSigningID string `json:"cancel_signing_id,omitempty" cbor:"cancel_signing_id,omitempty"`

	// ConfirmedTxHash is the on-ledger hash of the confirmed create, and
	// OfferSequence the account sequence it was recorded with. Finish and
	// cancel transactions reference the hold by that sequence.
	ConfirmedTxHash string `json:"confirmed_tx_hash,omitempty" cbor:"confirmed_tx_hash,omitempty"`
	OfferSequence   uint32 `json:"offer_sequence,omitempty" cbor:"offer_sequence,omitempty"`

	State     HoldState `json:"state" cbor:"state"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}
