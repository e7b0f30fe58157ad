package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/events"
	"github.com/voltmesh/curtaild/internal/metrics"
	"github.com/voltmesh/curtaild/rewards"
)

// DefaultInterval is how often the oracle sweeps completed events.
const DefaultInterval = time.Hour

// sweepWindow is how far back a pass looks for completed events. It must
// stretch past the point participant holds become cancelable (release delay
// plus cancel grace) with a day of retry slack, or a zero-savings hold would
// age out of the sweep before its cancel window ever opens.
const sweepWindow = rewards.ReleaseDelay + escrow.CancelGracePeriod*time.Second + 24*time.Hour

// Source supplies measured curtailment for one participant in one event,
// in kWh. Implementations read meter data; zero means no verified savings.
type Source interface {
	EnergySaved(ctx context.Context, eventID, participantID string) (float64, error)
}

// HoldSettler is the slice of the escrow orchestrator the oracle needs.
type HoldSettler interface {
	Finish(ctx context.Context, holdID string) (*escrow.ConditionalHold, error)
	Cancel(ctx context.Context, holdID string) (*escrow.ConditionalHold, error)
}

// Oracle periodically verifies completed curtailment events: it records
// measured savings, settles each participant's conditional hold and issues
// the reward payment. Each participant is settled independently; one
// failure never blocks the rest of the sweep.
type Oracle struct {
	directory *events.Directory
	holds     *escrow.Store
	settler   HoldSettler
	manager   *rewards.Manager
	source    Source
	interval  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a curtailment oracle. A non-positive interval falls back to
// DefaultInterval.
func New(directory *events.Directory, holds *escrow.Store, settler HoldSettler,
	manager *rewards.Manager, source Source, interval time.Duration, logger *zap.Logger) (*Oracle, error) {

	if directory == nil || holds == nil || settler == nil || manager == nil || source == nil {
		return nil, fmt.Errorf("all oracle dependencies must be provided")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Oracle{
		directory: directory,
		holds:     holds,
		settler:   settler,
		manager:   manager,
		source:    source,
		interval:  interval,
		logger:    logger.Named("oracle"),
	}, nil
}

// Start launches the verification loop.
func (o *Oracle) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("oracle is already running")
	}
	o.running = true
	o.stopChan = make(chan struct{})
	o.doneChan = make(chan struct{})

	go o.loop(ctx)

	o.logger.Info("oracle started", zap.Duration("interval", o.interval))
	return nil
}

// Stop halts the verification loop and waits for an in-flight pass to end.
func (o *Oracle) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopChan)
	done := o.doneChan
	o.mu.Unlock()

	<-done
	o.logger.Info("oracle stopped")
	return nil
}

func (o *Oracle) loop(ctx context.Context) {
	defer close(o.doneChan)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-ticker.C:
			if err := o.RunPass(ctx); err != nil {
				o.logger.Error("verification pass failed", zap.Error(err))
			}
		}
	}
}

// RunPass sweeps every completed event still inside the sweep window and
// settles its unverified participants. Exposed so operators can trigger a
// sweep on demand.
func (o *Oracle) RunPass(ctx context.Context) error {
	cutoff := time.Now().Add(-sweepWindow)
	completed, err := o.directory.CompletedEventsEndedSince(cutoff)
	if err != nil {
		return fmt.Errorf("failed to list completed events: %w", err)
	}

	metrics.IncrementOraclePasses()
	for _, event := range completed {
		o.verifyEvent(ctx, event)
	}

	o.logger.Debug("verification pass complete", zap.Int("events", len(completed)))
	return nil
}

func (o *Oracle) verifyEvent(ctx context.Context, event *events.CurtailmentEvent) {
	participations, err := o.directory.Participations(event.ID)
	if err != nil {
		o.logger.Error("failed to list participations",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}

	for _, p := range participations {
		if p.Status != events.ParticipationRegistered && p.Status != events.ParticipationParticipating {
			continue
		}
		if err := o.verifyParticipant(ctx, event, p); err != nil {
			metrics.IncrementOracleItemErrors()
			o.logger.Error("failed to verify participant",
				zap.String("event_id", event.ID),
				zap.String("participant_id", p.ParticipantID),
				zap.Error(err))
		}
	}
}

// verifyParticipant records measured savings for one participation and
// settles its hold: finish plus payment when savings were measured, cancel
// with a zero reward otherwise.
func (o *Oracle) verifyParticipant(ctx context.Context, event *events.CurtailmentEvent, p *events.EventParticipation) error {
	saved, err := o.source.EnergySaved(ctx, event.ID, p.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to measure savings: %w", err)
	}

	if err := o.directory.RecordEnergySaved(event.ID, p.ParticipantID, saved); err != nil {
		return fmt.Errorf("failed to record savings: %w", err)
	}
	p.EnergySavedKwh = saved

	hold, err := o.holds.ParticipantHold(event.ID, p.ParticipantID)
	if err != nil && !errors.Is(err, escrow.ErrNotFound) {
		return fmt.Errorf("failed to look up participant hold: %w", err)
	}

	if saved > 0 {
		return o.settleVerified(ctx, event, p, hold)
	}
	return o.settleMissed(ctx, event, p, hold)
}

func (o *Oracle) settleVerified(ctx context.Context, event *events.CurtailmentEvent, p *events.EventParticipation, hold *escrow.ConditionalHold) error {
	if hold != nil && hold.State == escrow.StateActive {
		if _, err := o.settler.Finish(ctx, hold.ID); err != nil {
			return fmt.Errorf("failed to finish hold %s: %w", hold.ID, err)
		}
	}

	if err := o.directory.AdvanceParticipation(event.ID, p.ParticipantID, events.ParticipationVerified); err != nil {
		return fmt.Errorf("failed to advance participation: %w", err)
	}
	p.Status = events.ParticipationVerified

	if _, err := o.manager.PayVerifiedParticipant(ctx, event, p); err != nil {
		return fmt.Errorf("failed to issue payment: %w", err)
	}

	o.logger.Info("participant verified",
		zap.String("event_id", event.ID),
		zap.String("participant_id", p.ParticipantID),
		zap.Float64("energy_saved_kwh", p.EnergySavedKwh))
	return nil
}

// settleMissed handles a participant with zero measured savings: the hold
// is reclaimed and the allocation cancelled, no payment is made. The cancel
// window may not have opened yet; that hold is retried on a later pass.
func (o *Oracle) settleMissed(ctx context.Context, event *events.CurtailmentEvent, p *events.EventParticipation, hold *escrow.ConditionalHold) error {
	if hold != nil && hold.State == escrow.StateActive {
		_, err := o.settler.Cancel(ctx, hold.ID)
		if errors.Is(err, escrow.ErrTooEarlyToCancel) {
			o.logger.Debug("cancel window not open yet, will retry",
				zap.String("hold_id", hold.ID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to cancel hold %s: %w", hold.ID, err)
		}
	}

	if err := o.directory.AdvanceParticipation(event.ID, p.ParticipantID, events.ParticipationVerified); err != nil {
		return fmt.Errorf("failed to advance participation: %w", err)
	}

	err := o.manager.Store().CancelAllocation(event.ID, p.ParticipantID)
	if err != nil && !errors.Is(err, rewards.ErrNotFound) {
		return fmt.Errorf("failed to cancel allocation: %w", err)
	}

	o.logger.Info("participant verified with no savings",
		zap.String("event_id", event.ID),
		zap.String("participant_id", p.ParticipantID))
	return nil
}
