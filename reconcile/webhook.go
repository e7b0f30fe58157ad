package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/internal/metrics"
	"github.com/voltmesh/curtaild/rewards"
)

// Signing outcomes reported by the wallet provider.
const (
	OutcomeSigned   = "signed"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
)

// Notification is one signing-outcome delivery. Providers retry deliveries,
// so the same notification can arrive more than once.
type Notification struct {
	CorrelationID string `json:"correlation_id"`
	Outcome       string `json:"outcome"`
	TxHash        string `json:"tx_hash,omitempty"`
}

// SettlementProcessor is the slice of the settlement manager the reconciler
// needs.
type SettlementProcessor interface {
	ProcessPayment(ctx context.Context, correlationID, txHash string) (*rewards.RewardPayment, error)
	FailPayment(ctx context.Context, correlationID string) (*rewards.RewardPayment, error)
}

// SequenceResolver looks up the account sequence a confirmed transaction
// was recorded with.
type SequenceResolver interface {
	OfferSequence(ctx context.Context, txHash string) (uint32, error)
}

// TxWatcher subscribes to ledger confirmations for a transaction hash.
type TxWatcher interface {
	SubscribeToTx(hash string) error
}

// Reconciler applies signing outcomes to the records that requested them.
// Every apply is a conditional state transition, so redelivered and raced
// notifications take effect exactly once; a correlation id that matches
// nothing is acknowledged without mutating anything.
type Reconciler struct {
	holds    *escrow.Store
	payments SettlementProcessor
	resolver SequenceResolver
	watcher  TxWatcher
	logger   *zap.Logger
}

// NewReconciler creates a webhook reconciler.
func NewReconciler(holds *escrow.Store, payments SettlementProcessor, resolver SequenceResolver, logger *zap.Logger) (*Reconciler, error) {
	if holds == nil {
		return nil, fmt.Errorf("hold store cannot be nil")
	}
	if payments == nil {
		return nil, fmt.Errorf("settlement processor cannot be nil")
	}

	return &Reconciler{
		holds:    holds,
		payments: payments,
		resolver: resolver,
		logger:   logger.Named("reconcile"),
	}, nil
}

// SetTxWatcher attaches an optional confirmation stream subscriber. When
// set, a hold activated without an offer sequence is watched on the ledger
// so the sequence can be captured from its confirmation later.
func (r *Reconciler) SetTxWatcher(watcher TxWatcher) {
	r.watcher = watcher
}

// HandleNotification routes one signing outcome. Hold correlation ids are
// tried first, then payment ids; anything else is a logged no-op.
func (r *Reconciler) HandleNotification(ctx context.Context, n *Notification) error {
	if n == nil || n.CorrelationID == "" {
		return fmt.Errorf("notification must carry a correlation id")
	}

	hold, err := r.holds.GetByCorrelationID(n.CorrelationID)
	if err == nil {
		return r.applyToHold(ctx, hold, n)
	}
	if !errors.Is(err, escrow.ErrNotFound) {
		return fmt.Errorf("failed to look up hold for correlation id %s: %w", n.CorrelationID, err)
	}

	// Payment outcomes follow the same routing as holds: only a signed
	// notification completes a payment. A rejection fails it so finalize
	// can issue a fresh request; an expiry leaves it pending.
	switch n.Outcome {
	case OutcomeSigned:
		_, err = r.payments.ProcessPayment(ctx, n.CorrelationID, n.TxHash)
	case OutcomeRejected:
		_, err = r.payments.FailPayment(ctx, n.CorrelationID)
	default:
		err = rewards.ErrPaymentNotFound
	}
	if err == nil {
		metrics.IncrementWebhooksProcessed()
		return nil
	}
	if !errors.Is(err, rewards.ErrPaymentNotFound) {
		return fmt.Errorf("failed to reconcile payment for correlation id %s: %w", n.CorrelationID, err)
	}

	metrics.IncrementWebhooksIgnored()
	r.logger.Info("notification matched no actionable record",
		zap.String("correlation_id", n.CorrelationID),
		zap.String("outcome", n.Outcome))
	return nil
}

func (r *Reconciler) applyToHold(ctx context.Context, hold *escrow.ConditionalHold, n *Notification) error {
	switch n.Outcome {
	case OutcomeSigned:
		return r.applySigned(ctx, hold, n)
	case OutcomeRejected:
		return r.applyRejected(hold, n)
	case OutcomeExpired:
		// The record stays where it is; the pending request can simply
		// be re-issued.
		metrics.IncrementWebhooksProcessed()
		r.logger.Info("signing request expired",
			zap.String("hold_id", hold.ID),
			zap.String("correlation_id", n.CorrelationID),
			zap.String("state", string(hold.State)))
		return nil
	default:
		metrics.IncrementWebhooksIgnored()
		r.logger.Warn("ignoring notification with unknown outcome",
			zap.String("hold_id", hold.ID),
			zap.String("outcome", n.Outcome))
		return nil
	}
}

// applySigned advances a hold along the transition its outstanding signing
// request was issued for. Which request resolved is determined by matching
// the correlation id, not by the hold's current state, so a stale
// redelivery for an already-applied transition falls through to a no-op.
func (r *Reconciler) applySigned(ctx context.Context, hold *escrow.ConditionalHold, n *Notification) error {
	switch n.CorrelationID {
	case hold.CreateSigningID:
		offerSequence := r.lookupOfferSequence(ctx, n.TxHash)
		_, err := r.holds.Transition(hold.ID, escrow.StatePending, escrow.StateActive, func(h *escrow.ConditionalHold) {
			h.ConfirmedTxHash = n.TxHash
			h.OfferSequence = offerSequence
		})
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		if offerSequence == 0 && r.watcher != nil && n.TxHash != "" {
			if err := r.watcher.SubscribeToTx(n.TxHash); err != nil {
				r.logger.Warn("could not watch confirmation stream",
					zap.String("tx_hash", n.TxHash),
					zap.Error(err))
			}
		}
		metrics.IncrementWebhooksProcessed()
		r.logger.Info("hold activated",
			zap.String("hold_id", hold.ID),
			zap.String("tx_hash", n.TxHash),
			zap.Uint32("offer_sequence", offerSequence))
		return nil

	case hold.FinishSigningID:
		_, err := r.holds.Transition(hold.ID, escrow.StateFinishPending, escrow.StateFinished, func(h *escrow.ConditionalHold) {
			h.ConfirmedTxHash = n.TxHash
		})
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		metrics.IncrementWebhooksProcessed()
		metrics.IncrementHoldsFinished()
		r.logger.Info("hold finished",
			zap.String("hold_id", hold.ID),
			zap.String("tx_hash", n.TxHash))
		return nil

	case hold.CancelSigningID:
		_, err := r.holds.Transition(hold.ID, escrow.StateCancelPending, escrow.StateCancelled, func(h *escrow.ConditionalHold) {
			h.ConfirmedTxHash = n.TxHash
		})
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		metrics.IncrementWebhooksProcessed()
		metrics.IncrementHoldsCancelled()
		r.logger.Info("hold cancelled",
			zap.String("hold_id", hold.ID),
			zap.String("tx_hash", n.TxHash))
		return nil
	}

	return r.ackStale(hold, n)
}

// applyRejected fails a hold whose create was declined by the signer. A
// rejected finish or cancel reverts the hold to Active with its signing id
// cleared, so the orchestrator's next attempt issues a fresh request instead
// of short-circuiting on the dead one.
func (r *Reconciler) applyRejected(hold *escrow.ConditionalHold, n *Notification) error {
	switch n.CorrelationID {
	case hold.CreateSigningID:
		_, err := r.holds.Transition(hold.ID, escrow.StatePending, escrow.StateFailed, nil)
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		metrics.IncrementWebhooksProcessed()
		metrics.IncrementHoldsFailed()
		r.logger.Warn("hold failed, create request rejected",
			zap.String("hold_id", hold.ID),
			zap.String("correlation_id", n.CorrelationID))
		return nil

	case hold.FinishSigningID:
		_, err := r.holds.Transition(hold.ID, escrow.StateFinishPending, escrow.StateActive, func(h *escrow.ConditionalHold) {
			h.FinishSigningID = ""
		})
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		metrics.IncrementWebhooksProcessed()
		r.logger.Warn("finish request rejected, hold reverted to active",
			zap.String("hold_id", hold.ID),
			zap.String("correlation_id", n.CorrelationID))
		return nil

	case hold.CancelSigningID:
		_, err := r.holds.Transition(hold.ID, escrow.StateCancelPending, escrow.StateActive, func(h *escrow.ConditionalHold) {
			h.CancelSigningID = ""
		})
		if errors.Is(err, escrow.ErrInvalidState) {
			return r.ackStale(hold, n)
		}
		if err != nil {
			return err
		}
		metrics.IncrementWebhooksProcessed()
		r.logger.Warn("cancel request rejected, hold reverted to active",
			zap.String("hold_id", hold.ID),
			zap.String("correlation_id", n.CorrelationID))
		return nil
	}

	return r.ackStale(hold, n)
}

// HandleConfirmation applies a validated-transaction notification from the
// ledger stream. Its one job is backfilling the offer sequence of an active
// hold whose activation webhook arrived before the transaction validated.
func (r *Reconciler) HandleConfirmation(ctx context.Context, c *xrpl.TxConfirmation) error {
	if c == nil || c.Hash == "" || !c.Validated {
		return nil
	}

	hold, err := r.holds.GetByTxHash(c.Hash)
	if errors.Is(err, escrow.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up hold for tx %s: %w", c.Hash, err)
	}
	if hold.State != escrow.StateActive || hold.OfferSequence != 0 {
		return nil
	}

	seq := r.lookupOfferSequence(ctx, c.Hash)
	if seq == 0 {
		return nil
	}

	_, err = r.holds.Transition(hold.ID, escrow.StateActive, escrow.StateActive, func(h *escrow.ConditionalHold) {
		h.OfferSequence = seq
	})
	if errors.Is(err, escrow.ErrInvalidState) {
		return nil
	}
	if err != nil {
		return err
	}

	r.logger.Info("offer sequence backfilled from confirmation stream",
		zap.String("hold_id", hold.ID),
		zap.String("tx_hash", c.Hash),
		zap.Uint32("offer_sequence", seq))
	return nil
}

// ackStale acknowledges a notification whose transition was already applied
// by an earlier delivery.
func (r *Reconciler) ackStale(hold *escrow.ConditionalHold, n *Notification) error {
	metrics.IncrementWebhooksIgnored()
	r.logger.Debug("notification already applied",
		zap.String("hold_id", hold.ID),
		zap.String("correlation_id", n.CorrelationID),
		zap.String("state", string(hold.State)))
	return nil
}

// lookupOfferSequence best-effort resolves the account sequence of a
// confirmed create. A zero result is acceptable here; finish and cancel
// re-resolve it from the confirmed hash before failing.
func (r *Reconciler) lookupOfferSequence(ctx context.Context, txHash string) uint32 {
	if r.resolver == nil || txHash == "" {
		return 0
	}
	seq, err := r.resolver.OfferSequence(ctx, txHash)
	if err != nil {
		r.logger.Warn("could not resolve offer sequence at activation",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return 0
	}
	return seq
}
