package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/signing"
	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/events"
	"github.com/voltmesh/curtaild/internal/metrics"
)

// ReleaseDelay is how long after an event ends its holds become
// finishable. It covers the verification window.
const ReleaseDelay = 3 * 24 * time.Hour

// HoldOrchestrator is the slice of the escrow orchestrator the settlement
// manager needs.
type HoldOrchestrator interface {
	Create(ctx context.Context, params escrow.CreateParams) (*escrow.CreateResult, error)
}

// Config carries the platform addresses settlement operates with.
type Config struct {
	// CustodyAddress receives the event funding hold and owns the
	// per-participant holds.
	CustodyAddress string
	// ReserveAddress pays confirmed rewards out.
	ReserveAddress string
}

// Manager implements the event-level settlement workflow: fund a reward
// pool, allocate potential rewards to registered participants, finalize
// verified participants and process confirmed payments.
type Manager struct {
	directory *events.Directory
	holds     *escrow.Store
	orch      HoldOrchestrator
	gateway   escrow.LedgerGateway
	broker    escrow.SigningBroker
	store     *Store
	config    Config
	logger    *zap.Logger
}

// NewManager creates a settlement manager.
func NewManager(directory *events.Directory, holds *escrow.Store, orch HoldOrchestrator,
	gateway escrow.LedgerGateway, broker escrow.SigningBroker, store *Store,
	config Config, logger *zap.Logger) (*Manager, error) {

	if directory == nil || holds == nil || orch == nil || gateway == nil || broker == nil || store == nil {
		return nil, fmt.Errorf("all settlement dependencies must be provided")
	}
	if config.CustodyAddress == "" || config.ReserveAddress == "" {
		return nil, fmt.Errorf("custody and reserve addresses must be configured")
	}

	return &Manager{
		directory: directory,
		holds:     holds,
		orch:      orch,
		gateway:   gateway,
		broker:    broker,
		store:     store,
		config:    config,
		logger:    logger.Named("settlement"),
	}, nil
}

// Store exposes the reward store for read paths.
func (m *Manager) Store() *Store {
	return m.store
}

// FundPool escrows the operator's reward pool for an event as the
// MainEvent hold and records the hold id on the event.
func (m *Manager) FundPool(ctx context.Context, eventID, operatorAddress string, totalAmount float64) (*escrow.CreateResult, error) {
	event, err := m.directory.Event(eventID)
	if errors.Is(err, events.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}

	result, err := m.orch.Create(ctx, escrow.CreateParams{
		EventID:            eventID,
		Kind:               escrow.KindMainEvent,
		SourceAddress:      operatorAddress,
		DestinationAddress: m.config.CustodyAddress,
		Amount:             totalAmount,
		ReleaseDate:        event.EndTime.Add(ReleaseDelay),
		Memo:               fmt.Sprintf("Reward pool for curtailment event %s", event.Name),
	})
	if err != nil {
		return nil, err
	}

	if err := m.directory.SetEventMainHold(eventID, result.Hold.ID); err != nil {
		return nil, fmt.Errorf("failed to record funding hold on event %s: %w", eventID, err)
	}

	m.logger.Info("reward pool funded",
		zap.String("event_id", eventID),
		zap.Float64("amount", totalAmount),
		zap.String("hold_id", result.Hold.ID))
	return result, nil
}

// Allocate creates one RewardAllocation per participant not yet allocated,
// with potentialAmount = enrolled capacity x reward rate, plus the
// participant's conditional hold. Re-allocation is a skip, not an error;
// participants without a payout wallet are skipped with a warning. A
// MainEvent hold must already exist.
func (m *Manager) Allocate(ctx context.Context, eventID string, participantIDs []string) ([]*RewardAllocation, error) {
	if _, err := m.holds.MainHold(eventID); errors.Is(err, escrow.ErrNotFound) {
		return nil, fmt.Errorf("%w: event %s", ErrMainEscrowNotFound, eventID)
	} else if err != nil {
		return nil, err
	}

	event, err := m.directory.Event(eventID)
	if errors.Is(err, events.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}

	var allocated []*RewardAllocation
	for _, participantID := range participantIDs {
		participation, err := m.directory.Participation(eventID, participantID)
		if err != nil {
			m.logger.Warn("skipping participant without a participation row",
				zap.String("event_id", eventID),
				zap.String("participant_id", participantID),
				zap.Error(err))
			continue
		}
		if participation.WalletAddress == "" {
			m.logger.Warn("skipping participant without a payout wallet",
				zap.String("event_id", eventID),
				zap.String("participant_id", participantID))
			continue
		}

		alloc := &RewardAllocation{
			ID:              escrow.NewID(),
			EventID:         eventID,
			ParticipantID:   participantID,
			PotentialAmount: participation.EnrolledCapacityKwh * event.RewardPerKwh,
			Status:          AllocationAllocated,
			CreatedAt:       time.Now().UTC(),
		}

		row, created, err := m.store.InsertAllocation(alloc)
		if err != nil {
			m.logger.Error("failed to persist allocation",
				zap.String("event_id", eventID),
				zap.String("participant_id", participantID),
				zap.Error(err))
			continue
		}
		if !created {
			m.logger.Debug("participant already allocated, skipping",
				zap.String("event_id", eventID),
				zap.String("participant_id", participantID))
			continue
		}
		allocated = append(allocated, row)

		// Participant hold gating this participant's payout. A failure
		// here is logged and does not abort the rest of the batch; the
		// hold can be re-created by retrying Allocate.
		_, err = m.orch.Create(ctx, escrow.CreateParams{
			EventID:            eventID,
			ParticipantID:      participantID,
			Kind:               escrow.KindParticipant,
			SourceAddress:      m.config.CustodyAddress,
			DestinationAddress: participation.WalletAddress,
			Amount:             row.PotentialAmount,
			ReleaseDate:        event.EndTime.Add(ReleaseDelay),
			Memo:               fmt.Sprintf("Potential reward for curtailment event %s", event.Name),
		})
		if err != nil {
			m.logger.Warn("failed to create participant hold",
				zap.String("event_id", eventID),
				zap.String("participant_id", participantID),
				zap.Error(err))
		}
	}

	m.logger.Info("allocation pass complete",
		zap.String("event_id", eventID),
		zap.Int("requested", len(participantIDs)),
		zap.Int("allocated", len(allocated)))
	return allocated, nil
}

// Finalize issues reward payments for every verified participant of a
// completed event. Zero-or-negative amounts and participants with an
// existing non-Failed payment are skipped.
func (m *Manager) Finalize(ctx context.Context, eventID string) ([]*RewardPayment, error) {
	event, err := m.directory.Event(eventID)
	if errors.Is(err, events.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}
	if event.Status != events.EventCompleted {
		return nil, fmt.Errorf("%w: event %s is %s", ErrEventNotCompleted, eventID, event.Status)
	}

	participations, err := m.directory.Participations(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations for %s: %w", eventID, err)
	}

	var issued []*RewardPayment
	for _, participation := range participations {
		if participation.Status != events.ParticipationVerified {
			continue
		}

		payment, err := m.PayVerifiedParticipant(ctx, event, participation)
		if err != nil {
			m.logger.Error("failed to issue reward payment",
				zap.String("event_id", eventID),
				zap.String("participant_id", participation.ParticipantID),
				zap.Error(err))
			continue
		}
		if payment != nil {
			issued = append(issued, payment)
		}
	}

	m.logger.Info("finalize pass complete",
		zap.String("event_id", eventID),
		zap.Int("payments_issued", len(issued)))
	return issued, nil
}

// PayVerifiedParticipant issues one reward payment signing request for a
// verified participation. Returns (nil, nil) when there is nothing to pay:
// zero measured savings or an existing non-Failed payment.
func (m *Manager) PayVerifiedParticipant(ctx context.Context, event *events.CurtailmentEvent, participation *events.EventParticipation) (*RewardPayment, error) {
	amount := participation.EnergySavedKwh * event.RewardPerKwh
	if amount <= 0 {
		return nil, nil
	}
	if participation.WalletAddress == "" {
		m.logger.Warn("verified participant has no payout wallet",
			zap.String("event_id", event.ID),
			zap.String("participant_id", participation.ParticipantID))
		return nil, nil
	}

	if prior, err := m.store.Payment(event.ID, participation.ParticipantID); err == nil && prior.Status != PaymentFailed {
		return nil, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	prepared, err := m.gateway.Prepare(ctx, &xrpl.Request{
		Kind:               xrpl.TxPayment,
		SourceAddress:      m.config.ReserveAddress,
		DestinationAddress: participation.WalletAddress,
		Amount:             amount,
		Memo: fmt.Sprintf("Reward for %.2f kWh saved during %s",
			participation.EnergySavedKwh, event.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare reward payment: %w", err)
	}

	sigReq, err := m.broker.CreateRequest(ctx, prepared.Tx, signing.Options{Submit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to request reward payment signature: %w", err)
	}

	payment := &RewardPayment{
		ID:            escrow.NewID(),
		EventID:       event.ID,
		ParticipantID: participation.ParticipantID,
		Amount:        amount,
		SigningID:     sigReq.CorrelationID,
		Status:        PaymentPendingSignature,
		CreatedAt:     time.Now().UTC(),
	}
	row, created, err := m.store.InsertPayment(payment)
	if err != nil {
		return nil, fmt.Errorf("failed to persist reward payment: %w", err)
	}
	if !created {
		// Lost a race with a concurrent finalize; the existing payment wins.
		return row, nil
	}

	if err := m.store.VerifyAllocation(event.ID, participation.ParticipantID, amount); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("failed to verify allocation",
			zap.String("event_id", event.ID),
			zap.String("participant_id", participation.ParticipantID),
			zap.Error(err))
	}

	m.logger.Info("reward payment requested",
		zap.String("event_id", event.ID),
		zap.String("participant_id", participation.ParticipantID),
		zap.Float64("amount", amount),
		zap.String("correlation_id", payment.SigningID))
	return row, nil
}

// FailPayment marks the payment matching a rejected signing request as
// Failed so a later finalize pass can issue a fresh one. An unknown
// correlation id is reported as ErrPaymentNotFound and mutates nothing.
func (m *Manager) FailPayment(ctx context.Context, correlationID string) (*RewardPayment, error) {
	if err := m.store.FailPayment(correlationID); err != nil {
		return nil, err
	}

	payment, err := m.store.PaymentBySigningID(correlationID)
	if err != nil {
		return nil, err
	}

	m.logger.Warn("reward payment signing rejected",
		zap.String("event_id", payment.EventID),
		zap.String("participant_id", payment.ParticipantID),
		zap.String("correlation_id", correlationID))
	return payment, nil
}

// ProcessPayment marks the payment matching a signing correlation id as
// completed and flips the participation's reward-claimed flag. An unknown
// correlation id is reported as ErrPaymentNotFound and mutates nothing;
// this is the only code path that marks a participation reward-claimed.
func (m *Manager) ProcessPayment(ctx context.Context, correlationID, txHash string) (*RewardPayment, error) {
	payment, completed, err := m.store.CompletePayment(correlationID, txHash)
	if err != nil {
		return nil, err
	}
	if !completed {
		// Duplicate notification; the first delivery already applied it.
		return payment, nil
	}

	if err := m.directory.MarkRewardClaimed(payment.EventID, payment.ParticipantID, payment.Amount); err != nil {
		m.logger.Error("payment completed but claim flag update failed",
			zap.String("event_id", payment.EventID),
			zap.String("participant_id", payment.ParticipantID),
			zap.Error(err))
	}

	metrics.IncrementPaymentsCompleted()
	m.logger.Info("reward payment completed",
		zap.String("event_id", payment.EventID),
		zap.String("participant_id", payment.ParticipantID),
		zap.String("tx_hash", txHash))
	return payment, nil
}
