package rewards

import (
	"errors"
	"time"
)

// Sentinel errors for settlement operations.
var (
	ErrNotFound           = errors.New("record not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrMainEscrowNotFound = errors.New("event has no funding hold")
	ErrEventNotCompleted  = errors.New("event is not completed")
	ErrPaymentNotFound    = errors.New("payment not found")
)

// AllocationStatus is the lifecycle state of a reward allocation.
type AllocationStatus string

const (
	AllocationAllocated AllocationStatus = "Allocated"
	AllocationVerified  AllocationStatus = "Verified"
	AllocationCancelled AllocationStatus = "Cancelled"
)

// RewardAllocation is the pre-verification reward estimate for one
// participant in one event. PotentialAmount is set once, from enrolled
// capacity times the event's reward rate, and never revised; ActualAmount
// is recorded when measured savings are verified.
type RewardAllocation struct {
	ID              string           `json:"id" cbor:"id"`
	EventID         string           `json:"event_id" cbor:"event_id"`
	ParticipantID   string           `json:"participant_id" cbor:"participant_id"`
	PotentialAmount float64          `json:"potential_amount" cbor:"potential_amount"`
	ActualAmount    float64          `json:"actual_amount" cbor:"actual_amount"`
	Status          AllocationStatus `json:"status" cbor:"status"`
	CreatedAt       time.Time        `json:"created_at" cbor:"created_at"`
	VerifiedAt      *time.Time       `json:"verified_at,omitempty" cbor:"verified_at,omitempty"`
}

// PaymentStatus is the lifecycle state of a reward payment.
type PaymentStatus string

const (
	PaymentPendingSignature PaymentStatus = "PendingSignature"
	PaymentCompleted        PaymentStatus = "Completed"
	PaymentFailed           PaymentStatus = "Failed"
)

// RewardPayment is the post-verification transfer to one participant for
// one event. At most one non-Failed payment exists per (event,
// participant).
type RewardPayment struct {
	ID              string        `json:"id" cbor:"id"`
	EventID         string        `json:"event_id" cbor:"event_id"`
	ParticipantID   string        `json:"participant_id" cbor:"participant_id"`
	Amount          float64       `json:"amount" cbor:"amount"`
	SigningID       string        `json:"signing_id" cbor:"signing_id"`
	ConfirmedTxHash string        `json:"confirmed_tx_hash,omitempty" cbor:"confirmed_tx_hash,omitempty"`
	Status          PaymentStatus `json:"status" cbor:"status"`
	CreatedAt       time.Time     `json:"created_at" cbor:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" cbor:"completed_at,omitempty"`
}
