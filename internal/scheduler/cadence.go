// Package scheduler implements the daily cadence pass: rechecking pending
// observations against actual survey coverage and re-arming follow-up
// triggers on the fixed cadence dates. One record's failure never aborts
// the pass for the others.
package scheduler

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

// triggerStore is the slice of the trigger-record repository the pass needs.
type triggerStore interface {
	ListValid(ctx context.Context) ([]types.TriggerRecord, error)
	Update(ctx context.Context, rec *types.TriggerRecord) error
}

// planService drives the retrigger path.
type planService interface {
	Submit(ctx context.Context, event types.Event) (string, plan.Window, error)
	PollStats(ctx context.Context, eventID, queueName string) (*types.PlanStats, error)
	Execute(ctx context.Context, planID int64) error
}

// coverageService reports achieved survey coverage for a localization.
type coverageService interface {
	FractionCovered(ctx context.Context, skymapName string, contour float64, start, end time.Time) (float64, error)
}

// CadencePass runs the daily pending-recheck and cadence due-check.
type CadencePass struct {
	records  triggerStore
	plans    planService
	coverage coverageService
	notifier notify.Notifier
	metrics  metrics.Recorder
	clock    types.Clock
	cadence  config.CadenceConfig
	planCfg  config.PlanConfig
	testing  bool
	logger   *slog.Logger
}

// NewCadencePass creates a CadencePass.
func NewCadencePass(records triggerStore, plans planService, coverage coverageService, notifier notify.Notifier, recorder metrics.Recorder, clock types.Clock, cfg *config.Config, logger *slog.Logger) *CadencePass {
	return &CadencePass{
		records:  records,
		plans:    plans,
		coverage: coverage,
		notifier: notifier,
		metrics:  recorder,
		clock:    clock,
		cadence:  cfg.Cadence,
		planCfg:  cfg.Plan,
		testing:  cfg.Testing,
		logger:   logger,
	}
}

// Run executes one full pass over all valid trigger records.
func (p *CadencePass) Run(ctx context.Context) error {
	records, err := p.records.ListValid(ctx)
	if err != nil {
		return err
	}

	started := p.clock.Now()
	today := started.UTC().Format(types.CivilDateLayout)
	p.logger.InfoContext(ctx, "cadence pass started",
		slog.Int("valid_records", len(records)),
		slog.String("date", today),
	)

	for i := range records {
		rec := &records[i]
		if err := p.processRecord(ctx, rec, today); err != nil {
			// Scoped to this record; the pass continues.
			p.logger.ErrorContext(ctx, "cadence pass record failed",
				slog.String("event_id", rec.EventID),
				slog.String("error", err.Error()),
			)
			p.metrics.Count(ctx, "CadenceRecordFailures", 1)
		}
	}

	p.metrics.DurationSeconds(ctx, "CadencePassDuration", p.clock.Now().Sub(started))
	return nil
}

// processRecord runs the pending recheck and the cadence due-check for one
// record, persisting at most once at the end.
func (p *CadencePass) processRecord(ctx context.Context, rec *types.TriggerRecord, today string) error {
	changed, retries, err := p.recheckPending(ctx, rec)
	if err != nil {
		// No retrigger happens on a faulted recheck; keep any retry
		// candidates pending for the next pass.
		rec.PendingPlans = append(rec.PendingPlans, retries...)
		if changed {
			if updateErr := p.records.Update(ctx, rec); updateErr != nil {
				return updateErr
			}
		}
		return err
	}

	followup := rec.CadenceDueOn(today)
	if len(retries) > 0 || followup {
		reason := types.RetriggerRetry
		if followup {
			reason = types.RetriggerFollowup
		}
		triggered, err := p.retrigger(ctx, rec, reason)
		if err != nil {
			if types.IsGateFailure(err) || types.IsTimeout(err) {
				p.logger.InfoContext(ctx, "retrigger not viable this pass",
					slog.String("event_id", rec.EventID),
					slog.String("reason", err.Error()),
				)
				// The plans pulled out of pending for this retry still need
				// an outcome; without a replacement plan they were not
				// observed tonight.
				if len(retries) > 0 {
					rec.Unsuccessful = append(rec.Unsuccessful, retries...)
					changed = true
					p.metrics.Count(ctx, "PendingUnsuccessful", float64(len(retries)))
				}
			} else {
				// Transient fault: put the retry plans back so the next pass
				// rechecks them.
				rec.PendingPlans = append(rec.PendingPlans, retries...)
				if changed {
					if updateErr := p.records.Update(ctx, rec); updateErr != nil {
						return updateErr
					}
				}
				return err
			}
		}
		changed = changed || triggered
	}

	if changed {
		return p.records.Update(ctx, rec)
	}
	return nil
}

// recheckPending classifies every pending plan whose start time has passed.
// Exactly one of the successful/unsuccessful lists grows per plan per pass;
// a plan needing a same-night retry is dropped from pending and returned in
// retries so the caller can settle its fate with the retrigger outcome.
func (p *CadencePass) recheckPending(ctx context.Context, rec *types.TriggerRecord) (changed bool, retries []types.PlanRef, err error) {
	now := p.clock.Now()
	remaining := rec.PendingPlans[:0]

	for _, pending := range rec.PendingPlans {
		if !pending.StartTime.Before(now) {
			remaining = append(remaining, pending)
			continue
		}

		elapsed := now.Sub(pending.StartTime)
		if elapsed > time.Duration(p.cadence.PendingRecheckDays)*24*time.Hour {
			rec.Unsuccessful = append(rec.Unsuccessful, pending)
			changed = true
			p.metrics.Count(ctx, "PendingUnsuccessful", 1)
			p.notifier.Notify(ctx, "Observation needs manual review",
				fmt.Sprintf("%s plan %d unobserved for over %dd", rec.EventID, pending.PlanID, p.cadence.PendingRecheckDays))
			continue
		}

		end := pending.StartTime.AddDate(0, 0, p.cadence.ObservationWindowDays)
		covered, covErr := p.coverage.FractionCovered(ctx, rec.GCN.SkymapName, p.planCfg.ProbabilityContour, pending.StartTime, end)
		if covErr != nil {
			// Leave the plan pending; next pass retries the query.
			remaining = append(remaining, pending)
			err = covErr
			continue
		}

		switch {
		case covered >= p.cadence.SuccessCoverage:
			rec.Successful = append(rec.Successful, pending)
			changed = true
			p.metrics.Count(ctx, "PendingSuccessful", 1)
		case covered > 0:
			changed = true
			switch p.cadence.PartialOutcome {
			case types.PartialRetry:
				retries = append(retries, pending)
			case types.PartialDiscard:
				rec.Unsuccessful = append(rec.Unsuccessful, pending)
			default:
				rec.Unsuccessful = append(rec.Unsuccessful, pending)
				p.notifier.Notify(ctx, "Partial coverage needs manual review",
					fmt.Sprintf("%s plan %d covered %.2f of %.2f", rec.EventID, pending.PlanID, covered, p.cadence.SuccessCoverage))
			}
		default:
			// Nothing observed yet; retry the same night.
			changed = true
			retries = append(retries, pending)
		}
	}

	rec.PendingPlans = remaining
	return changed, retries, err
}

// retrigger runs the plan pipeline again for an already-admitted event and
// records the new pending plan. The admission gates are not re-run; the
// event earned its record at first trigger.
func (p *CadencePass) retrigger(ctx context.Context, rec *types.TriggerRecord, reason types.RetriggerReason) (bool, error) {
	queueName, window, err := p.plans.Submit(ctx, types.Event{ID: rec.EventID, ObservedAt: rec.DateObs})
	if err != nil {
		return false, err
	}

	stats, err := p.plans.PollStats(ctx, rec.EventID, queueName)
	if err != nil {
		return false, err
	}

	if stats.TotalTimeSec > p.planCfg.MaxTotalTimeSec {
		return false, types.GateFailure(types.ErrCodeGatePlanStats,
			"retrigger plan needs %.0fs, ceiling is %.0fs", stats.TotalTimeSec, p.planCfg.MaxTotalTimeSec)
	}
	if stats.Probability < p.planCfg.MinProbability {
		return false, types.GateFailure(types.ErrCodeGatePlanStats,
			"retrigger plan covers %.2f, floor is %.2f", stats.Probability, p.planCfg.MinProbability)
	}

	if !p.testing {
		if err := p.plans.Execute(ctx, stats.PlanID); err != nil {
			return false, err
		}
	}

	ref := types.PlanRef{PlanID: stats.PlanID, StartTime: stats.StartTime}
	if ref.StartTime.IsZero() {
		ref.StartTime = window.Start
	}
	rec.PendingPlans = append(rec.PendingPlans, ref)

	p.logger.InfoContext(ctx, "retrigger committed",
		slog.String("event_id", rec.EventID),
		slog.String("reason", string(reason)),
		slog.Int64("plan_id", stats.PlanID),
	)
	p.metrics.Count(ctx, "Retriggers", 1)
	p.notifier.Notify(ctx, "Follow-up triggered",
		fmt.Sprintf("%s %s plan %d queued", rec.EventID, reason, stats.PlanID))
	return true, nil
}
