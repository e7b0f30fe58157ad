package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltmesh/curtaild/internal/storage"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	directory, err := NewDirectory(db)
	require.NoError(t, err)
	return directory
}

func seedEvent(t *testing.T, d *Directory, id string, status EventStatus, endTime time.Time) *CurtailmentEvent {
	t.Helper()

	event := &CurtailmentEvent{
		ID:              id,
		Name:            "Evening Peak Shave",
		Status:          status,
		StartTime:       endTime.Add(-2 * time.Hour),
		EndTime:         endTime,
		RewardPerKwh:    0.5,
		OperatorAddress: "rOperator",
	}
	require.NoError(t, d.PutEvent(event))
	return event
}

func TestDirectoryEventRoundTrip(t *testing.T) {
	d := newTestDirectory(t)
	seedEvent(t, d, "evt-1", EventActive, time.Now().Add(time.Hour))

	event, err := d.Event("evt-1")
	require.NoError(t, err)
	require.Equal(t, "Evening Peak Shave", event.Name)

	_, err = d.Event("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDirectorySetEventMainHold(t *testing.T) {
	d := newTestDirectory(t)
	seedEvent(t, d, "evt-1", EventActive, time.Now())

	require.NoError(t, d.SetEventMainHold("evt-1", "hold-9"))

	event, err := d.Event("evt-1")
	require.NoError(t, err)
	require.Equal(t, "hold-9", event.MainHoldID)
}

func TestCompletedEventsEndedSince(t *testing.T) {
	d := newTestDirectory(t)
	now := time.Now().UTC()

	seedEvent(t, d, "evt-recent", EventCompleted, now.Add(-time.Hour))
	seedEvent(t, d, "evt-old", EventCompleted, now.Add(-96*time.Hour))
	seedEvent(t, d, "evt-active", EventActive, now.Add(-time.Hour))

	found, err := d.CompletedEventsEndedSince(now.Add(-72 * time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "evt-recent", found[0].ID)
}

func TestAdvanceParticipationIsForwardOnly(t *testing.T) {
	d := newTestDirectory(t)

	p := &EventParticipation{
		EventID:             "evt-1",
		ParticipantID:       "part-1",
		Status:              ParticipationRegistered,
		EnrolledCapacityKwh: 40,
		WalletAddress:       "rWallet",
	}
	require.NoError(t, d.PutParticipation(p))

	require.NoError(t, d.AdvanceParticipation("evt-1", "part-1", ParticipationVerified))

	err := d.AdvanceParticipation("evt-1", "part-1", ParticipationRegistered)
	require.Error(t, err)

	got, err := d.Participation("evt-1", "part-1")
	require.NoError(t, err)
	require.Equal(t, ParticipationVerified, got.Status)
}

func TestRecordEnergySaved(t *testing.T) {
	d := newTestDirectory(t)

	require.NoError(t, d.PutParticipation(&EventParticipation{
		EventID:       "evt-1",
		ParticipantID: "part-1",
		Status:        ParticipationParticipating,
	}))

	require.NoError(t, d.RecordEnergySaved("evt-1", "part-1", 12.5))

	got, err := d.Participation("evt-1", "part-1")
	require.NoError(t, err)
	require.Equal(t, 12.5, got.EnergySavedKwh)
}

func TestMarkRewardClaimedAccumulatesTotals(t *testing.T) {
	d := newTestDirectory(t)

	require.NoError(t, d.PutParticipation(&EventParticipation{
		EventID:       "evt-1",
		ParticipantID: "part-1",
		Status:        ParticipationVerified,
		WalletAddress: "rWallet",
	}))
	require.NoError(t, d.PutParticipation(&EventParticipation{
		EventID:       "evt-2",
		ParticipantID: "part-1",
		Status:        ParticipationVerified,
		WalletAddress: "rWallet",
	}))

	require.NoError(t, d.MarkRewardClaimed("evt-1", "part-1", 10))
	require.NoError(t, d.MarkRewardClaimed("evt-2", "part-1", 7.5))

	p, err := d.Participation("evt-1", "part-1")
	require.NoError(t, err)
	require.True(t, p.RewardClaimed)

	acct, err := d.Participant("part-1")
	require.NoError(t, err)
	require.Equal(t, 17.5, acct.TotalRewardsClaimed)
}
