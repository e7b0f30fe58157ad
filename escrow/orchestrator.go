package escrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/signing"
	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/internal/metrics"
)

// CancelGracePeriod is the delay in ledger seconds between the moment a
// hold becomes finishable and the moment its creator may reclaim it.
const CancelGracePeriod = 86400

// LedgerGateway is the slice of the ledger gateway the orchestrator needs.
type LedgerGateway interface {
	Prepare(ctx context.Context, req *xrpl.Request) (*xrpl.Prepared, error)
	OfferSequence(ctx context.Context, txHash string) (uint32, error)
}

// SigningBroker is the slice of the signing broker the orchestrator needs.
type SigningBroker interface {
	CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts signing.Options) (*signing.SigningRequest, error)
}

// CreateParams describes a hold to create.
type CreateParams struct {
	EventID            string
	ParticipantID      string
	Kind               HoldKind
	SourceAddress      string
	DestinationAddress string
	Amount             float64
	ReleaseDate        time.Time
	Memo               string
}

// CreateResult pairs the persisted hold with the signing handles the human
// signer needs.
type CreateResult struct {
	Hold     *ConditionalHold
	QRURL    string
	DeepLink string
}

// Orchestrator drives the lifecycle of conditional holds: create, finish
// and cancel each issue one signing request and persist its correlation id.
// Terminal transitions are applied only by the webhook reconciler so the
// on-ledger outcome stays the source of truth.
type Orchestrator struct {
	store   *Store
	gateway LedgerGateway
	broker  SigningBroker
	logger  *zap.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewOrchestrator creates an escrow orchestrator.
func NewOrchestrator(store *Store, gateway LedgerGateway, broker SigningBroker, logger *zap.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}

	return &Orchestrator{
		store:   store,
		gateway: gateway,
		broker:  broker,
		logger:  logger.Named("escrow"),
		now:     time.Now,
	}, nil
}

// Create generates a fresh condition, builds a hold-create transaction and
// issues its signing request. Re-invoking Create for a hold that already
// has an outstanding create request returns the existing record unchanged.
func (o *Orchestrator) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("hold amount must be positive, got %f", params.Amount)
	}
	if !params.ReleaseDate.After(o.now()) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReleaseDate, params.ReleaseDate)
	}

	if existing := o.existingHold(params); existing != nil && existing.CreateSigningID != "" {
		o.logger.Debug("create is a no-op, hold already has an outstanding request",
			zap.String("hold_id", existing.ID),
			zap.String("correlation_id", existing.CreateSigningID))
		return &CreateResult{Hold: existing}, nil
	}

	pair, err := xrpl.GenerateCondition()
	if err != nil {
		return nil, err
	}

	finishAfter := xrpl.ToLedgerTime(params.ReleaseDate)
	cancelAfter := finishAfter + CancelGracePeriod

	prepared, err := o.gateway.Prepare(ctx, &xrpl.Request{
		Kind:               xrpl.TxEscrowCreate,
		SourceAddress:      params.SourceAddress,
		DestinationAddress: params.DestinationAddress,
		Amount:             params.Amount,
		Condition:          pair.Condition,
		FinishAfter:        finishAfter,
		CancelAfter:        cancelAfter,
		Memo:               params.Memo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare hold-create transaction: %w", err)
	}

	sigReq, err := o.broker.CreateRequest(ctx, prepared.Tx, signing.Options{Submit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to request hold-create signature: %w", err)
	}

	now := o.now().UTC()
	hold := &ConditionalHold{
		ID:                 NewID(),
		EventID:            params.EventID,
		ParticipantID:      params.ParticipantID,
		Kind:               params.Kind,
		SourceAddress:      params.SourceAddress,
		DestinationAddress: params.DestinationAddress,
		Amount:             params.Amount,
		Condition:          pair.Condition,
		Fulfillment:        pair.Fulfillment,
		FinishAfter:        finishAfter,
		CancelAfter:        cancelAfter,
		CreateSigningID:    sigReq.CorrelationID,
		State:              StatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := o.store.Insert(hold); err != nil {
		return nil, fmt.Errorf("failed to persist hold: %w", err)
	}

	metrics.IncrementHoldsCreated()
	o.logger.Info("conditional hold created",
		zap.String("hold_id", hold.ID),
		zap.String("event_id", hold.EventID),
		zap.String("kind", string(hold.Kind)),
		zap.Float64("amount", hold.Amount),
		zap.String("correlation_id", hold.CreateSigningID))

	return &CreateResult{
		Hold:     hold,
		QRURL:    sigReq.QRURL,
		DeepLink: sigReq.DeepLink,
	}, nil
}

// Finish builds a finish transaction carrying the hold's condition and its
// fulfillment, and issues its signing request. Only valid from Active; a
// repeat call while a finish request is outstanding returns the existing
// correlation id.
func (o *Orchestrator) Finish(ctx context.Context, holdID string) (*ConditionalHold, error) {
	hold, err := o.store.Get(holdID)
	if err != nil {
		return nil, err
	}

	if hold.State == StateFinishPending && hold.FinishSigningID != "" {
		return hold, nil
	}
	if hold.State != StateActive {
		return nil, fmt.Errorf("%w: cannot finish hold %s in state %s", ErrInvalidState, holdID, hold.State)
	}

	offerSequence, err := o.resolveOfferSequence(ctx, hold)
	if err != nil {
		return nil, err
	}

	prepared, err := o.gateway.Prepare(ctx, &xrpl.Request{
		Kind:          xrpl.TxEscrowFinish,
		SourceAddress: hold.SourceAddress,
		OfferSequence: offerSequence,
		Condition:     hold.Condition,
		Fulfillment:   hold.Fulfillment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare hold-finish transaction: %w", err)
	}

	sigReq, err := o.broker.CreateRequest(ctx, prepared.Tx, signing.Options{Submit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to request hold-finish signature: %w", err)
	}

	updated, err := o.store.Transition(holdID, StateActive, StateFinishPending, func(h *ConditionalHold) {
		h.FinishSigningID = sigReq.CorrelationID
		h.OfferSequence = offerSequence
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("hold finish requested",
		zap.String("hold_id", holdID),
		zap.String("correlation_id", sigReq.CorrelationID))
	return updated, nil
}

// Cancel builds a cancel transaction reclaiming the held funds and issues
// its signing request. Only valid from Active and only once the cancel
// window has opened.
func (o *Orchestrator) Cancel(ctx context.Context, holdID string) (*ConditionalHold, error) {
	hold, err := o.store.Get(holdID)
	if err != nil {
		return nil, err
	}

	if hold.State == StateCancelPending && hold.CancelSigningID != "" {
		return hold, nil
	}
	if hold.State != StateActive {
		return nil, fmt.Errorf("%w: cannot cancel hold %s in state %s", ErrInvalidState, holdID, hold.State)
	}
	if xrpl.ToLedgerTime(o.now()) < hold.CancelAfter {
		return nil, fmt.Errorf("%w: hold %s cancelable at ledger time %d",
			ErrTooEarlyToCancel, holdID, hold.CancelAfter)
	}

	offerSequence, err := o.resolveOfferSequence(ctx, hold)
	if err != nil {
		return nil, err
	}

	prepared, err := o.gateway.Prepare(ctx, &xrpl.Request{
		Kind:          xrpl.TxEscrowCancel,
		SourceAddress: hold.SourceAddress,
		OfferSequence: offerSequence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare hold-cancel transaction: %w", err)
	}

	sigReq, err := o.broker.CreateRequest(ctx, prepared.Tx, signing.Options{Submit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to request hold-cancel signature: %w", err)
	}

	updated, err := o.store.Transition(holdID, StateActive, StateCancelPending, func(h *ConditionalHold) {
		h.CancelSigningID = sigReq.CorrelationID
		h.OfferSequence = offerSequence
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("hold cancel requested",
		zap.String("hold_id", holdID),
		zap.String("correlation_id", sigReq.CorrelationID))
	return updated, nil
}

// Store exposes the underlying hold store for read paths.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// resolveOfferSequence returns the hold's on-ledger sequence, re-resolving
// it from the confirmed transaction when the reconciler could not record it
// at activation time.
func (o *Orchestrator) resolveOfferSequence(ctx context.Context, hold *ConditionalHold) (uint32, error) {
	if hold.OfferSequence != 0 {
		return hold.OfferSequence, nil
	}
	if hold.ConfirmedTxHash == "" {
		return 0, fmt.Errorf("%w: hold %s", ErrMissingOfferSequence, hold.ID)
	}

	seq, err := o.gateway.OfferSequence(ctx, hold.ConfirmedTxHash)
	if err != nil || seq == 0 {
		return 0, fmt.Errorf("%w: hold %s", ErrMissingOfferSequence, hold.ID)
	}
	return seq, nil
}

// existingHold returns a previously created hold matching the params, if
// any, for idempotent create retries.
func (o *Orchestrator) existingHold(params CreateParams) *ConditionalHold {
	var hold *ConditionalHold
	var err error

	switch params.Kind {
	case KindMainEvent:
		hold, err = o.store.MainHold(params.EventID)
	case KindParticipant:
		hold, err = o.store.ParticipantHold(params.EventID, params.ParticipantID)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return hold
}
