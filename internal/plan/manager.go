package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/external"
	"github.com/knolan10/BBHBot/internal/types"
)

// planningAPI is the slice of the planning client the manager needs.
type planningAPI interface {
	SubmitPlanRequest(ctx context.Context, req external.PlanRequest) error
	GetPlanStats(ctx context.Context, eventID, queueName string) (*types.PlanStats, bool, error)
	EnqueueExecution(ctx context.Context, planID int64) error
	DequeueExecution(ctx context.Context, planID int64) error
}

// Manager drives one plan through request, poll, and queue commitment.
type Manager struct {
	planning planningAPI
	windows  *WindowCalc
	clock    types.Clock
	cfg      config.PlanConfig
	logger   *slog.Logger
}

// NewManager creates a plan Manager.
func NewManager(planning planningAPI, windows *WindowCalc, clock types.Clock, cfg config.PlanConfig, logger *slog.Logger) *Manager {
	return &Manager{
		planning: planning,
		windows:  windows,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// QueueName derives the deterministic plan identifier for an event and
// window start. Resubmitting the same event in the same window reuses the
// name, which is what makes plan submission idempotent.
func QueueName(eventID string, start time.Time) string {
	return fmt.Sprintf("%s_BBHBot_%s", eventID, start.UTC().Format(time.RFC3339))
}

// Submit requests a plan for the event targeting the next observing window
// and returns the queue name to poll.
func (m *Manager) Submit(ctx context.Context, event types.Event) (string, Window, error) {
	window := m.windows.Next(m.clock.Now())
	queueName := QueueName(event.ID, window.Start)

	err := m.planning.SubmitPlanRequest(ctx, external.PlanRequest{
		EventID:   event.ID,
		QueueName: queueName,
		StartDate: window.Start,
		EndDate:   window.End,
		Contour:   m.cfg.ProbabilityContour,
	})
	if err != nil {
		return "", Window{}, err
	}

	m.logger.InfoContext(ctx, "plan requested",
		slog.String("event_id", event.ID),
		slog.String("queue_name", queueName),
		slog.Time("window_start", window.Start),
	)
	return queueName, window, nil
}

// PollStats waits for the plan's statistics under the configured budget:
// an initial delay, then one attempt per interval until the timeout.
// Transient upstream failures consume budget but do not abort the poll;
// consistency errors abort immediately. Budget exhaustion returns a
// timeout_plan_stats error.
func (m *Manager) PollStats(ctx context.Context, eventID, queueName string) (*types.PlanStats, error) {
	if err := m.clock.Sleep(ctx, m.cfg.InitialDelay); err != nil {
		return nil, err
	}

	deadline := m.clock.Now().Add(m.cfg.PollTimeout)
	for {
		stats, ready, err := m.planning.GetPlanStats(ctx, eventID, queueName)
		switch {
		case err != nil && types.IsConsistency(err):
			return nil, err
		case err != nil && types.IsTransient(err):
			m.logger.WarnContext(ctx, "plan stats fetch failed, will retry",
				slog.String("queue_name", queueName),
				slog.String("error", err.Error()),
			)
		case err != nil:
			return nil, err
		case ready:
			return stats, nil
		}

		if !m.clock.Now().Add(m.cfg.PollInterval).Before(deadline) {
			return nil, types.NewAppError(types.ErrCodeTimeoutPlanStats,
				"plan statistics not available within poll budget for "+queueName, nil)
		}
		if err := m.clock.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// Execute commits a computed plan to the live telescope queue.
func (m *Manager) Execute(ctx context.Context, planID int64) error {
	return m.planning.EnqueueExecution(ctx, planID)
}

// Withdraw removes a previously queued plan, used when a newer alert
// supersedes it or the event is retracted.
func (m *Manager) Withdraw(ctx context.Context, planID int64) error {
	return m.planning.DequeueExecution(ctx, planID)
}
