package events

import "time"

// EventStatus is the lifecycle state of a curtailment event. Event rows are
// owned by the marketplace CRUD layer; the settlement engine reads them and
// only ever narrows statuses forward.
type EventStatus string

const (
	EventUpcoming  EventStatus = "Upcoming"
	EventActive    EventStatus = "Active"
	EventCompleted EventStatus = "Completed"
	EventCancelled EventStatus = "Cancelled"
	EventFailed    EventStatus = "Failed"
)

// ParticipationStatus is the lifecycle state of one participant's enrolment
// in one event.
type ParticipationStatus string

const (
	ParticipationRegistered    ParticipationStatus = "Registered"
	ParticipationParticipating ParticipationStatus = "Participating"
	ParticipationCompleted     ParticipationStatus = "Completed"
	ParticipationVerified      ParticipationStatus = "Verified"
	ParticipationFailed        ParticipationStatus = "Failed"
	ParticipationMissed        ParticipationStatus = "Missed"
)

// statusRank orders participation statuses so updates can be forward-only:
// a Verified participation is never reverted to Registered.
var statusRank = map[ParticipationStatus]int{
	ParticipationRegistered:    0,
	ParticipationParticipating: 1,
	ParticipationCompleted:     2,
	ParticipationVerified:      3,
	ParticipationFailed:        3,
	ParticipationMissed:        3,
}

// CurtailmentEvent is a demand-curtailment event as published by the
// marketplace layer.
type CurtailmentEvent struct {
	ID              string      `json:"id" cbor:"id"`
	Name            string      `json:"name" cbor:"name"`
	Status          EventStatus `json:"status" cbor:"status"`
	StartTime       time.Time   `json:"start_time" cbor:"start_time"`
	EndTime         time.Time   `json:"end_time" cbor:"end_time"`
	RewardPerKwh    float64     `json:"reward_per_kwh" cbor:"reward_per_kwh"`
	OperatorAddress string      `json:"operator_address" cbor:"operator_address"`

	// MainHoldID references the funding hold once the pool is escrowed.
	MainHoldID string `json:"main_hold_id,omitempty" cbor:"main_hold_id,omitempty"`
}

// EventParticipation records one participant's enrolment in one event.
type EventParticipation struct {
	EventID       string              `json:"event_id" cbor:"event_id"`
	ParticipantID string              `json:"participant_id" cbor:"participant_id"`
	Status        ParticipationStatus `json:"status" cbor:"status"`

	// EnrolledCapacityKwh is the device capacity pledged at registration.
	EnrolledCapacityKwh float64 `json:"enrolled_capacity_kwh" cbor:"enrolled_capacity_kwh"`

	// WalletAddress is the participant's payout wallet; empty when the
	// participant has not linked one.
	WalletAddress string `json:"wallet_address,omitempty" cbor:"wallet_address,omitempty"`

	// EnergySavedKwh is the measured savings recorded by the oracle.
	EnergySavedKwh float64 `json:"energy_saved_kwh" cbor:"energy_saved_kwh"`

	// RewardClaimed flips exactly once, when a payment is confirmed.
	RewardClaimed bool `json:"reward_claimed" cbor:"reward_claimed"`
}

// Participant holds the cumulative reward total for one participant across
// events.
type Participant struct {
	ID                  string  `json:"id" cbor:"id"`
	WalletAddress       string  `json:"wallet_address,omitempty" cbor:"wallet_address,omitempty"`
	TotalRewardsClaimed float64 `json:"total_rewards_claimed" cbor:"total_rewards_claimed"`
}
