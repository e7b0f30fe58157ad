package rewards

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/signing"
	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/events"
	"github.com/voltmesh/curtaild/internal/storage"
)

// fakeGateway builds transactions without a ledger.
type fakeGateway struct {
	requests []*xrpl.Request
}

func (f *fakeGateway) Prepare(ctx context.Context, req *xrpl.Request) (*xrpl.Prepared, error) {
	f.requests = append(f.requests, req)
	tx, err := xrpl.Build(req, 1, 100)
	if err != nil {
		return nil, err
	}
	return &xrpl.Prepared{Tx: tx, Sequence: 1, LastLedgerSequence: tx.LastLedgerSequence}, nil
}

func (f *fakeGateway) OfferSequence(ctx context.Context, txHash string) (uint32, error) {
	return 42, nil
}

// fakeBroker hands out sequential correlation ids.
type fakeBroker struct {
	count int
}

func (f *fakeBroker) CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts signing.Options) (*signing.SigningRequest, error) {
	f.count++
	return &signing.SigningRequest{
		CorrelationID: fmt.Sprintf("corr-%d", f.count),
		QRURL:         "https://sign.example/qr.png",
	}, nil
}

type settlementFixture struct {
	manager   *Manager
	directory *events.Directory
	holds     *escrow.Store
	gateway   *fakeGateway
	broker    *fakeBroker
}

func newFixture(t *testing.T) *settlementFixture {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	holds, err := escrow.NewStore(db)
	require.NoError(t, err)
	directory, err := events.NewDirectory(db)
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)

	gateway := &fakeGateway{}
	broker := &fakeBroker{}
	orch, err := escrow.NewOrchestrator(holds, gateway, broker, zap.NewNop())
	require.NoError(t, err)

	manager, err := NewManager(directory, holds, orch, gateway, broker, store,
		Config{CustodyAddress: "rCustody", ReserveAddress: "rReserve"}, zap.NewNop())
	require.NoError(t, err)

	return &settlementFixture{
		manager:   manager,
		directory: directory,
		holds:     holds,
		gateway:   gateway,
		broker:    broker,
	}
}

func (f *settlementFixture) seedEvent(t *testing.T, status events.EventStatus) *events.CurtailmentEvent {
	t.Helper()

	event := &events.CurtailmentEvent{
		ID:              "evt-1",
		Name:            "Evening Peak Shave",
		Status:          status,
		StartTime:       time.Now().Add(-3 * time.Hour),
		EndTime:         time.Now().Add(-time.Hour),
		RewardPerKwh:    0.5,
		OperatorAddress: "rOperator",
	}
	require.NoError(t, f.directory.PutEvent(event))
	return event
}

func (f *settlementFixture) seedParticipants(t *testing.T, status events.ParticipationStatus, ids ...string) {
	t.Helper()

	for _, id := range ids {
		require.NoError(t, f.directory.PutParticipation(&events.EventParticipation{
			EventID:             "evt-1",
			ParticipantID:       id,
			Status:              status,
			EnrolledCapacityKwh: 40,
			WalletAddress:       "rWallet-" + id,
		}))
	}
}

func TestFundPoolCreatesMainHold(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)

	result, err := f.manager.FundPool(context.Background(), "evt-1", "rOperator", 500)
	require.NoError(t, err)
	require.Equal(t, escrow.KindMainEvent, result.Hold.Kind)
	require.Equal(t, "rOperator", result.Hold.SourceAddress)
	require.Equal(t, "rCustody", result.Hold.DestinationAddress)

	event, err := f.directory.Event("evt-1")
	require.NoError(t, err)
	require.Equal(t, result.Hold.ID, event.MainHoldID)
}

func TestFundPoolUnknownEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.FundPool(context.Background(), "evt-missing", "rOperator", 500)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestAllocateThreeParticipants(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)
	f.seedParticipants(t, events.ParticipationRegistered, "p1", "p2", "p3")

	_, err := f.manager.FundPool(context.Background(), "evt-1", "rOperator", 500)
	require.NoError(t, err)

	allocated, err := f.manager.Allocate(context.Background(), "evt-1", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, allocated, 3)

	for _, alloc := range allocated {
		// 40 kWh enrolled at 0.5 per kWh
		require.Equal(t, 20.0, alloc.PotentialAmount)
		require.Equal(t, AllocationAllocated, alloc.Status)
	}

	// Each participant also got a conditional hold from custody.
	for _, id := range []string{"p1", "p2", "p3"} {
		hold, err := f.holds.ParticipantHold("evt-1", id)
		require.NoError(t, err)
		require.Equal(t, 20.0, hold.Amount)
		require.Equal(t, "rCustody", hold.SourceAddress)
		require.Equal(t, "rWallet-"+id, hold.DestinationAddress)
	}
}

func TestAllocateRequiresFundedPool(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)
	f.seedParticipants(t, events.ParticipationRegistered, "p1")

	_, err := f.manager.Allocate(context.Background(), "evt-1", []string{"p1"})
	require.ErrorIs(t, err, ErrMainEscrowNotFound)
}

func TestAllocateSkipsAlreadyAllocated(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)
	f.seedParticipants(t, events.ParticipationRegistered, "p1")

	_, err := f.manager.FundPool(context.Background(), "evt-1", "rOperator", 500)
	require.NoError(t, err)

	first, err := f.manager.Allocate(context.Background(), "evt-1", []string{"p1"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.manager.Allocate(context.Background(), "evt-1", []string{"p1"})
	require.NoError(t, err)
	require.Empty(t, second)

	allocations, err := f.manager.Store().Allocations("evt-1")
	require.NoError(t, err)
	require.Len(t, allocations, 1)
}

func TestAllocateSkipsParticipantWithoutWallet(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)
	require.NoError(t, f.directory.PutParticipation(&events.EventParticipation{
		EventID:             "evt-1",
		ParticipantID:       "p1",
		Status:              events.ParticipationRegistered,
		EnrolledCapacityKwh: 40,
	}))

	_, err := f.manager.FundPool(context.Background(), "evt-1", "rOperator", 500)
	require.NoError(t, err)

	allocated, err := f.manager.Allocate(context.Background(), "evt-1", []string{"p1"})
	require.NoError(t, err)
	require.Empty(t, allocated)
}

func TestFinalizeRequiresCompletedEvent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventActive)

	_, err := f.manager.Finalize(context.Background(), "evt-1")
	require.ErrorIs(t, err, ErrEventNotCompleted)
}

func TestFinalizePaysVerifiedParticipants(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1", "p2")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))
	// p2 saved nothing and must not be paid.

	payments, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	payment := payments[0]
	require.Equal(t, "p1", payment.ParticipantID)
	require.Equal(t, 15.0, payment.Amount) // 30 kWh at 0.5
	require.Equal(t, PaymentPendingSignature, payment.Status)
	require.NotEmpty(t, payment.SigningID)

	// The payment transaction draws from the reserve.
	payReq := f.gateway.requests[len(f.gateway.requests)-1]
	require.Equal(t, xrpl.TxPayment, payReq.Kind)
	require.Equal(t, "rReserve", payReq.SourceAddress)
	require.Equal(t, "rWallet-p1", payReq.DestinationAddress)
}

func TestFinalizeIssuesAtMostOnePaymentPerParticipant(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))

	first, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestFailedPaymentCanBeReissued(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))

	first, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, f.manager.Store().FailPayment(first[0].SigningID))

	second, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].SigningID, second[0].SigningID)
}

func TestFailPaymentDoesNotCompleteOrClaim(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))

	payments, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	failed, err := f.manager.FailPayment(context.Background(), payments[0].SigningID)
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, failed.Status)
	require.Empty(t, failed.ConfirmedTxHash)

	p, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.False(t, p.RewardClaimed)

	_, err = f.manager.FailPayment(context.Background(), "corr-nobody")
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestProcessPaymentCompletesAndMarksClaim(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))

	payments, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	completed, err := f.manager.ProcessPayment(context.Background(), payments[0].SigningID, "TXHASH1")
	require.NoError(t, err)
	require.Equal(t, PaymentCompleted, completed.Status)
	require.Equal(t, "TXHASH1", completed.ConfirmedTxHash)

	p, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.True(t, p.RewardClaimed)

	acct, err := f.directory.Participant("p1")
	require.NoError(t, err)
	require.Equal(t, 15.0, acct.TotalRewardsClaimed)
}

func TestProcessPaymentDuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, events.EventCompleted)
	f.seedParticipants(t, events.ParticipationVerified, "p1")
	require.NoError(t, f.directory.RecordEnergySaved("evt-1", "p1", 30))

	payments, err := f.manager.Finalize(context.Background(), "evt-1")
	require.NoError(t, err)

	_, err = f.manager.ProcessPayment(context.Background(), payments[0].SigningID, "TXHASH1")
	require.NoError(t, err)
	_, err = f.manager.ProcessPayment(context.Background(), payments[0].SigningID, "TXHASH1")
	require.NoError(t, err)

	// The cumulative total was applied exactly once.
	acct, err := f.directory.Participant("p1")
	require.NoError(t, err)
	require.Equal(t, 15.0, acct.TotalRewardsClaimed)
}

func TestProcessPaymentUnknownCorrelation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ProcessPayment(context.Background(), "corr-unknown", "TXHASH1")
	require.ErrorIs(t, err, ErrPaymentNotFound)
}
