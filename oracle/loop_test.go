package oracle

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
	"github.com/voltmesh/curtaild/rewards"
)

// fakeSettler applies hold transitions without a ledger round trip.
type fakeSettler struct {
	holds     *escrow.Store
	finished  []string
	cancelled []string
}

func (f *fakeSettler) Finish(ctx context.Context, holdID string) (*escrow.ConditionalHold, error) {
	f.finished = append(f.finished, holdID)
	return f.holds.Transition(holdID, escrow.StateActive, escrow.StateFinishPending, nil)
}

func (f *fakeSettler) Cancel(ctx context.Context, holdID string) (*escrow.ConditionalHold, error) {
	f.cancelled = append(f.cancelled, holdID)
	return f.holds.Transition(holdID, escrow.StateActive, escrow.StateCancelPending, nil)
}

// fakeSource serves measurements from a map.
type fakeSource struct {
	savings map[string]float64
	errs    map[string]error
}

func (f *fakeSource) EnergySaved(ctx context.Context, eventID, participantID string) (float64, error) {
	if err := f.errs[participantID]; err != nil {
		return 0, err
	}
	return f.savings[participantID], nil
}

// fakeGateway and fakeBroker satisfy the settlement manager's ledger and
// signer dependencies.
type fakeGateway struct{}

func (f *fakeGateway) Prepare(ctx context.Context, req *xrpl.Request) (*xrpl.Prepared, error) {
	tx, err := xrpl.Build(req, 1, 100)
	if err != nil {
		return nil, err
	}
	return &xrpl.Prepared{Tx: tx, Sequence: 1, LastLedgerSequence: tx.LastLedgerSequence}, nil
}

func (f *fakeGateway) OfferSequence(ctx context.Context, txHash string) (uint32, error) {
	return 42, nil
}

type fakeBroker struct {
	count int
}

func (f *fakeBroker) CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts signing.Options) (*signing.SigningRequest, error) {
	f.count++
	return &signing.SigningRequest{CorrelationID: fmt.Sprintf("corr-%d", f.count)}, nil
}

type oracleFixture struct {
	oracle    *Oracle
	directory *events.Directory
	holds     *escrow.Store
	manager   *rewards.Manager
	orch      *escrow.Orchestrator
	settler   *fakeSettler
	source    *fakeSource
}

func newFixture(t *testing.T) *oracleFixture {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	holds, err := escrow.NewStore(db)
	require.NoError(t, err)
	directory, err := events.NewDirectory(db)
	require.NoError(t, err)
	rewardStore, err := rewards.NewStore(db)
	require.NoError(t, err)

	gateway := &fakeGateway{}
	broker := &fakeBroker{}
	orch, err := escrow.NewOrchestrator(holds, gateway, broker, zap.NewNop())
	require.NoError(t, err)

	manager, err := rewards.NewManager(directory, holds, orch, gateway, broker, rewardStore,
		rewards.Config{CustodyAddress: "rCustody", ReserveAddress: "rReserve"}, zap.NewNop())
	require.NoError(t, err)

	settler := &fakeSettler{holds: holds}
	source := &fakeSource{savings: map[string]float64{}, errs: map[string]error{}}

	verifier, err := New(directory, holds, settler, manager, source, time.Hour, zap.NewNop())
	require.NoError(t, err)

	return &oracleFixture{
		oracle:    verifier,
		directory: directory,
		holds:     holds,
		manager:   manager,
		orch:      orch,
		settler:   settler,
		source:    source,
	}
}

func (f *oracleFixture) seedCompletedEvent(t *testing.T) {
	t.Helper()

	require.NoError(t, f.directory.PutEvent(&events.CurtailmentEvent{
		ID:              "evt-1",
		Name:            "Evening Peak Shave",
		Status:          events.EventCompleted,
		StartTime:       time.Now().Add(-4 * time.Hour),
		EndTime:         time.Now().Add(-time.Hour),
		RewardPerKwh:    0.5,
		OperatorAddress: "rOperator",
	}))
}

func (f *oracleFixture) seedParticipant(t *testing.T, id string) *escrow.ConditionalHold {
	t.Helper()

	require.NoError(t, f.directory.PutParticipation(&events.EventParticipation{
		EventID:             "evt-1",
		ParticipantID:       id,
		Status:              events.ParticipationParticipating,
		EnrolledCapacityKwh: 40,
		WalletAddress:       "rWallet-" + id,
	}))

	now := time.Now().UTC()
	hold := &escrow.ConditionalHold{
		ID:                 escrow.NewID(),
		EventID:            "evt-1",
		ParticipantID:      id,
		Kind:               escrow.KindParticipant,
		SourceAddress:      "rCustody",
		DestinationAddress: "rWallet-" + id,
		Amount:             20,
		Condition:          "cond",
		Fulfillment:        "ful",
		CreateSigningID:    "corr-create-" + id,
		State:              escrow.StatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.holds.Insert(hold))
	_, err := f.holds.Transition(hold.ID, escrow.StatePending, escrow.StateActive, func(h *escrow.ConditionalHold) {
		h.OfferSequence = 42
	})
	require.NoError(t, err)
	return hold
}

func (f *oracleFixture) seedAllocation(t *testing.T, id string) {
	t.Helper()

	_, created, err := f.manager.Store().InsertAllocation(&rewards.RewardAllocation{
		ID:              escrow.NewID(),
		EventID:         "evt-1",
		ParticipantID:   id,
		PotentialAmount: 20,
		Status:          rewards.AllocationAllocated,
		CreatedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPassPaysParticipantWithMeasuredSavings(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedEvent(t)
	hold := f.seedParticipant(t, "p1")
	f.seedAllocation(t, "p1")
	f.source.savings["p1"] = 25

	require.NoError(t, f.oracle.RunPass(context.Background()))

	require.Equal(t, []string{hold.ID}, f.settler.finished)
	require.Empty(t, f.settler.cancelled)

	p, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationVerified, p.Status)
	require.Equal(t, 25.0, p.EnergySavedKwh)

	payment, err := f.manager.Store().Payment("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, 12.5, payment.Amount) // 25 kWh at 0.5
	require.Equal(t, rewards.PaymentPendingSignature, payment.Status)
}

func TestPassCancelsParticipantWithNoSavings(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedEvent(t)
	hold := f.seedParticipant(t, "p1")
	f.seedAllocation(t, "p1")
	f.source.savings["p1"] = 0

	require.NoError(t, f.oracle.RunPass(context.Background()))

	require.Equal(t, []string{hold.ID}, f.settler.cancelled)
	require.Empty(t, f.settler.finished)

	p, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationVerified, p.Status)

	alloc, err := f.manager.Store().Allocation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, rewards.AllocationCancelled, alloc.Status)

	_, err = f.manager.Store().Payment("evt-1", "p1")
	require.ErrorIs(t, err, rewards.ErrNotFound)
}

func TestPassIsolatesPerParticipantFailures(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedEvent(t)
	f.seedParticipant(t, "p1")
	f.seedParticipant(t, "p2")
	f.seedAllocation(t, "p1")
	f.seedAllocation(t, "p2")
	f.source.errs["p1"] = fmt.Errorf("meter offline")
	f.source.savings["p2"] = 10

	require.NoError(t, f.oracle.RunPass(context.Background()))

	// p1's failure did not block p2.
	p2, err := f.directory.Participation("evt-1", "p2")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationVerified, p2.Status)

	p1, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationParticipating, p1.Status)
}

func TestPassSkipsAlreadyVerifiedParticipants(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedEvent(t)
	f.seedParticipant(t, "p1")
	require.NoError(t, f.directory.AdvanceParticipation("evt-1", "p1", events.ParticipationVerified))

	require.NoError(t, f.oracle.RunPass(context.Background()))
	require.Empty(t, f.settler.finished)
	require.Empty(t, f.settler.cancelled)
}

func TestPassIgnoresEventsOutsideWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.directory.PutEvent(&events.CurtailmentEvent{
		ID:      "evt-old",
		Status:  events.EventCompleted,
		EndTime: time.Now().Add(-30 * 24 * time.Hour),
	}))

	require.NoError(t, f.oracle.RunPass(context.Background()))
	require.Empty(t, f.settler.finished)
}

// Against the real orchestrator a zero-savings hold cannot be cancelled
// until its cancel window opens, which happens after the release delay has
// fully elapsed. The sweep has to keep covering the event until then.
func TestPassRetriesCancelUntilWindowOpens(t *testing.T) {
	f := newFixture(t)
	verifier, err := New(f.directory, f.holds, f.orch, f.manager, f.source, time.Hour, zap.NewNop())
	require.NoError(t, err)

	end := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.directory.PutEvent(&events.CurtailmentEvent{
		ID:           "evt-1",
		Name:         "Evening Peak Shave",
		Status:       events.EventCompleted,
		StartTime:    end.Add(-3 * time.Hour),
		EndTime:      end,
		RewardPerKwh: 0.5,
	}))
	hold := f.seedParticipant(t, "p1")
	f.seedAllocation(t, "p1")
	f.source.savings["p1"] = 0

	_, err = f.holds.Transition(hold.ID, escrow.StateActive, escrow.StateActive, func(h *escrow.ConditionalHold) {
		h.CancelAfter = xrpl.ToLedgerTime(end.Add(rewards.ReleaseDelay).Add(escrow.CancelGracePeriod * time.Second))
	})
	require.NoError(t, err)

	// The cancel window has not opened yet: the pass must leave the
	// participant pending for a later retry, not error out.
	require.NoError(t, verifier.RunPass(context.Background()))

	p, err := f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationParticipating, p.Status)

	got, err := f.holds.Get(hold.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StateActive, got.State)

	// Days later the window has opened. The event is well past the release
	// delay by now but must still be inside the sweep.
	agedEnd := time.Now().Add(-rewards.ReleaseDelay - escrow.CancelGracePeriod*time.Second - 2*time.Hour)
	require.NoError(t, f.directory.PutEvent(&events.CurtailmentEvent{
		ID:           "evt-1",
		Name:         "Evening Peak Shave",
		Status:       events.EventCompleted,
		StartTime:    agedEnd.Add(-3 * time.Hour),
		EndTime:      agedEnd,
		RewardPerKwh: 0.5,
	}))
	_, err = f.holds.Transition(hold.ID, escrow.StateActive, escrow.StateActive, func(h *escrow.ConditionalHold) {
		h.CancelAfter = xrpl.ToLedgerTime(agedEnd.Add(rewards.ReleaseDelay).Add(escrow.CancelGracePeriod * time.Second))
	})
	require.NoError(t, err)

	require.NoError(t, verifier.RunPass(context.Background()))

	p, err = f.directory.Participation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, events.ParticipationVerified, p.Status)

	got, err = f.holds.Get(hold.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StateCancelPending, got.State)

	alloc, err := f.manager.Store().Allocation("evt-1", "p1")
	require.NoError(t, err)
	require.Equal(t, rewards.AllocationCancelled, alloc.Status)
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.oracle.Start(context.Background()))
	require.Error(t, f.oracle.Start(context.Background()))
	require.NoError(t, f.oracle.Stop())
	require.NoError(t, f.oracle.Stop())
}
