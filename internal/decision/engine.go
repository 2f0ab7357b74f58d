// Package decision implements the admission and decision engine: the gate
// pipeline that takes one candidate event from the alert stream to exactly
// one of skip, trigger, serendipitous, or retract. Gate failures are values,
// not faults; a failing gate short-circuits the pipeline and the event is
// dropped for the current pass. Persistence happens only at commit points,
// never mid-sequence.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/notify"
	"github.com/knolan10/BBHBot/internal/plan"
	"github.com/knolan10/BBHBot/internal/types"
)

// triggerStore is the slice of the trigger-record repository the engine needs.
type triggerStore interface {
	Get(ctx context.Context, eventID string) (*types.TriggerRecord, error)
	Create(ctx context.Context, rec *types.TriggerRecord) error
	Update(ctx context.Context, rec *types.TriggerRecord) error
}

// planService drives plan submission, polling, and queue commitment.
type planService interface {
	Submit(ctx context.Context, event types.Event) (string, plan.Window, error)
	PollStats(ctx context.Context, eventID, queueName string) (*types.PlanStats, error)
	Execute(ctx context.Context, planID int64) error
	Withdraw(ctx context.Context, planID int64) error
}

// coverageService reports the survey coverage fraction of a localization.
type coverageService interface {
	FractionCovered(ctx context.Context, skymapName string, contour float64, start, end time.Time) (float64, error)
}

// massService provides mass estimates; availability is a value.
type massService interface {
	ChirpMass(ctx context.Context, eventID string) (float64, bool, error)
	PredictTotalMass(ctx context.Context, event types.Event) (float64, error)
}

// Engine runs the gate pipeline.
type Engine struct {
	records   triggerStore
	plans     planService
	coverage  coverageService
	mass      massService
	notifier  notify.Notifier
	metrics   metrics.Recorder
	clock     types.Clock
	admission config.AdmissionConfig
	planCfg   config.PlanConfig
	massCfg   config.MassConfig
	cadence   config.CadenceConfig
	// testing suppresses live execution-queue submissions while exercising
	// the full decision path.
	testing bool
	logger  *slog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Records  triggerStore
	Plans    planService
	Coverage coverageService
	Mass     massService
	Notifier notify.Notifier
	Metrics  metrics.Recorder
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewEngine creates a decision Engine.
func NewEngine(deps Deps, cfg *config.Config) *Engine {
	return &Engine{
		records:   deps.Records,
		plans:     deps.Plans,
		coverage:  deps.Coverage,
		mass:      deps.Mass,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		admission: cfg.Admission,
		planCfg:   cfg.Plan,
		massCfg:   cfg.Mass,
		cadence:   cfg.Cadence,
		testing:   cfg.Testing,
		logger:    deps.Logger,
	}
}

// Decide runs one event through the full gate pipeline. The returned
// outcome is always meaningful when err is nil; transient and consistency
// failures come back as errors scoped to this event only.
func (e *Engine) Decide(ctx context.Context, event types.Event) (types.DecisionOutcome, error) {
	logger := e.logger.With(slog.String("event_id", event.ID))

	if !event.ValidID() {
		return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateMalformedID,
			"event ID %q is not a superevent identifier", event.ID)), nil
	}

	record, err := e.records.Get(ctx, event.ID)
	if err != nil {
		return types.DecisionOutcome{}, err
	}

	if event.Stage == types.StageRetraction {
		if record != nil && record.Valid {
			return e.retract(ctx, logger, event, record)
		}
		return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateRetraction,
			"retraction for an event we never triggered")), nil
	}

	if !event.Significant {
		if record != nil && record.Valid {
			return e.retract(ctx, logger, event, record)
		}
		return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateNotSignificant,
			"alert not marked significant")), nil
	}

	if gateErr := admissionGates(event, e.admission); gateErr != nil {
		return e.skip(ctx, logger, gateErr), nil
	}

	if gateErr, err := e.massGate(ctx, event); err != nil {
		return types.DecisionOutcome{}, err
	} else if gateErr != nil {
		if record != nil && record.Valid {
			return e.retract(ctx, logger, event, record)
		}
		return e.skip(ctx, logger, gateErr), nil
	}

	// All static gates passed; plan the observation.
	queueName, window, err := e.plans.Submit(ctx, event)
	if err != nil {
		return types.DecisionOutcome{}, err
	}

	stats, err := e.plans.PollStats(ctx, event.ID, queueName)
	if err != nil {
		if types.IsTimeout(err) {
			return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGatePlanStats,
				"plan statistics unavailable: %s", err.Error())), nil
		}
		return types.DecisionOutcome{}, err
	}

	if gateErr := planStatsGate(stats, e.planCfg); gateErr != nil {
		if record != nil && record.Valid {
			return e.retract(ctx, logger, event, record)
		}
		return e.skip(ctx, logger, gateErr), nil
	}

	now := e.clock.Now()
	if age := now.Sub(event.ObservedAt); age > e.admission.MaxEventAge {
		return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateEventAge,
			"event is %s old, limit is %s", age, e.admission.MaxEventAge)), nil
	}

	if stats.AlreadySubmitted && !ourTrigger(record) {
		return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateForeignTrigger,
			"another actor already triggered this event")), nil
	}

	// Replacing our own pending plan is only worthwhile before it starts.
	if record != nil && record.Valid && record.HasPending() {
		old := record.PendingPlans[0]
		if !plan.BeforeCutoff(now, old.StartTime) {
			return e.skip(ctx, logger, types.GateFailure(types.ErrCodeGateAfterCutoff,
				"existing plan %d already started at %s", old.PlanID, old.StartTime)), nil
		}
		if err := e.withdrawPending(ctx, logger, record); err != nil {
			return types.DecisionOutcome{}, err
		}
	}

	serendipitous, err := e.serendipityCheck(ctx, event, stats)
	if err != nil {
		return types.DecisionOutcome{}, err
	}

	return e.commit(ctx, logger, event, record, stats, window, serendipitous)
}

// ourTrigger reports whether we have any record of triggering the event.
func ourTrigger(record *types.TriggerRecord) bool {
	if record == nil {
		return false
	}
	return record.HasPending() || len(record.Successful) > 0 || record.Serendipitous != nil
}

// massGate polls for a catalog chirp-mass estimate under the configured
// budget, falling back to the regression total-mass prediction when none
// appears. The first return is the gate failure (nil when the gate passes).
func (e *Engine) massGate(ctx context.Context, event types.Event) (*types.AppError, error) {
	deadline := e.clock.Now().Add(e.massCfg.PollBudget)
	for {
		chirp, available, err := e.mass.ChirpMass(ctx, event.ID)
		if err != nil && !types.IsTransient(err) {
			return nil, err
		}
		if err == nil && available {
			if chirp < e.admission.MinChirpMass {
				return massGateFailure("chirp mass", chirp, e.admission.MinChirpMass), nil
			}
			return nil, nil
		}

		if !e.clock.Now().Add(e.massCfg.PollInterval).Before(deadline) {
			break
		}
		if err := e.clock.Sleep(ctx, e.massCfg.PollInterval); err != nil {
			return nil, err
		}
	}

	total, err := e.mass.PredictTotalMass(ctx, event)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeTimeoutMass,
			"no catalog estimate within budget and prediction failed", err)
	}
	if total < e.admission.MinTotalMass {
		return massGateFailure("predicted total mass", total, e.admission.MinTotalMass), nil
	}
	return nil, nil
}

// serendipityCheck reports whether survey coverage in the days leading up to
// the event already satisfies the plan's claimed probability. The window is
// anchored at the event time, not at the decision time.
func (e *Engine) serendipityCheck(ctx context.Context, event types.Event, stats *types.PlanStats) (bool, error) {
	end := event.ObservedAt
	start := end.AddDate(0, 0, -e.planCfg.CoverageLookbackDays)
	covered, err := e.coverage.FractionCovered(ctx, event.SkymapName, e.planCfg.ProbabilityContour, start, end)
	if err != nil {
		return false, err
	}
	return covered >= e.planCfg.SerendipityFactor*stats.Probability, nil
}

// withdrawPending dequeues and drops every pending plan on the record. The
// record is not persisted here; the caller's commit point does that.
func (e *Engine) withdrawPending(ctx context.Context, logger *slog.Logger, record *types.TriggerRecord) error {
	for _, p := range record.PendingPlans {
		if err := e.plans.Withdraw(ctx, p.PlanID); err != nil {
			return err
		}
		logger.InfoContext(ctx, "withdrew superseded plan", slog.Int64("plan_id", p.PlanID))
	}
	record.PendingPlans = nil
	return nil
}

// retract withdraws all pending plans and invalidates the record.
func (e *Engine) retract(ctx context.Context, logger *slog.Logger, event types.Event, record *types.TriggerRecord) (types.DecisionOutcome, error) {
	if err := e.withdrawPending(ctx, logger, record); err != nil {
		return types.DecisionOutcome{}, err
	}
	record.Valid = false
	record.GCN = types.GCNMeta{Stage: event.Stage, SkymapName: event.SkymapName}
	if err := e.records.Update(ctx, record); err != nil {
		return types.DecisionOutcome{}, err
	}

	logger.InfoContext(ctx, "event retracted", slog.String("stage", string(event.Stage)))
	e.metrics.Count(ctx, "Retractions", 1)
	e.notifier.Notify(ctx, "Retracted",
		fmt.Sprintf("%s retracted; queued plans withdrawn", event.ID))
	return types.DecisionOutcome{Kind: types.DecisionRetracted}, nil
}

// commit is the single persistence point for trigger and serendipitous
// outcomes: execution-queue submission (live triggers only), record
// creation or mutation, cadence-date generation, and notification.
func (e *Engine) commit(ctx context.Context, logger *slog.Logger, event types.Event, record *types.TriggerRecord, stats *types.PlanStats, window plan.Window, serendipitous bool) (types.DecisionOutcome, error) {
	ref := types.PlanRef{PlanID: stats.PlanID, StartTime: stats.StartTime}
	if ref.StartTime.IsZero() {
		ref.StartTime = window.Start
	}

	isNew := record == nil
	if isNew {
		record = &types.TriggerRecord{
			EventID:      event.ID,
			DateObs:      event.ObservedAt,
			Valid:        true,
			CadenceDates: types.GenerateCadenceDates(event.ObservedAt, e.cadence.OffsetsDays),
		}
	}
	record.Valid = true
	record.GCN = types.GCNMeta{Stage: event.Stage, SkymapName: event.SkymapName}
	if len(record.CadenceDates) == 0 {
		record.CadenceDates = types.GenerateCadenceDates(record.DateObs, e.cadence.OffsetsDays)
	}

	kind := types.DecisionTriggered
	if serendipitous {
		record.Serendipitous = &ref
		kind = types.DecisionSerendipitous
	} else {
		if !e.testing {
			if err := e.plans.Execute(ctx, stats.PlanID); err != nil {
				return types.DecisionOutcome{}, err
			}
		}
		record.PendingPlans = append(record.PendingPlans, ref)
	}

	if isNew {
		if err := e.records.Create(ctx, record); err != nil {
			return types.DecisionOutcome{}, err
		}
	} else {
		if err := e.records.Update(ctx, record); err != nil {
			return types.DecisionOutcome{}, err
		}
	}

	logger.InfoContext(ctx, "decision committed",
		slog.String("outcome", string(kind)),
		slog.Int64("plan_id", stats.PlanID),
		slog.Float64("probability", stats.Probability),
	)
	e.metrics.Count(ctx, "Triggers", 1)
	if serendipitous {
		e.notifier.Notify(ctx, "Serendipitous coverage",
			fmt.Sprintf("%s already covered by recent survey data; plan %d not queued", event.ID, stats.PlanID))
	} else {
		e.notifier.Notify(ctx, "Triggered",
			fmt.Sprintf("%s plan %d queued, probability %.2f, %.0fs", event.ID, stats.PlanID, stats.Probability, stats.TotalTimeSec))
	}

	return types.DecisionOutcome{Kind: kind, Stats: stats}, nil
}

// skip logs and counts a gate failure.
func (e *Engine) skip(ctx context.Context, logger *slog.Logger, gateErr *types.AppError) types.DecisionOutcome {
	logger.InfoContext(ctx, "event skipped",
		slog.String("gate", string(gateErr.Code)),
		slog.String("reason", gateErr.Message),
	)
	e.metrics.Count(ctx, "Skips", 1)
	return types.DecisionOutcome{Kind: types.DecisionSkip, Reason: gateErr.Message}
}
