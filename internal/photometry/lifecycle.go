// Package photometry implements the bulk lightcurve retrieval lifecycle:
// for every triggered event, catalog sources in the localization are
// submitted to the batch photometry service on a fixed update cadence for
// up to 200 days, throttled against the service's global in-flight ceiling.
// Results land in a local zstd-compressed archive.
package photometry

import (
	"context"
	"log/slog"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/external"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/notify"
	"github.com/knolan10/BBHBot/internal/queue"
	"github.com/knolan10/BBHBot/internal/types"
)

// photometryStore is the slice of the photometry repository the pass needs.
type photometryStore interface {
	Get(ctx context.Context, eventID string) (*types.PhotometryRecord, error)
	Create(ctx context.Context, rec *types.PhotometryRecord) error
	ListActive(ctx context.Context) ([]types.PhotometryRecord, error)
	Update(ctx context.Context, rec *types.PhotometryRecord) error
}

// triggerReader resolves triggered events and their localizations.
type triggerReader interface {
	Get(ctx context.Context, eventID string) (*types.TriggerRecord, error)
	ListValid(ctx context.Context) ([]types.TriggerRecord, error)
}

// backlogAppender persists overflow requests.
type backlogAppender interface {
	Append(ctx context.Context, entry *types.QueueEntry) (int64, error)
}

// batchAPI is the slice of the batch photometry client the pass needs.
type batchAPI interface {
	SubmitBatch(ctx context.Context, coords []types.Coordinate, jdStart, jdEnd float64) (external.SubmissionReceipt, error)
	PendingCount(ctx context.Context) (int, error)
	FetchResults(ctx context.Context, batchIDs []string) ([]external.BatchResult, error)
}

// catalogAPI returns sources inside a localization.
type catalogAPI interface {
	SourcesInLocalization(ctx context.Context, skymapName string, contour float64) ([]types.Coordinate, error)
}

// drainerAPI drains the persistent backlog.
type drainerAPI interface {
	Drain(ctx context.Context) (int, error)
}

// Manager runs the daily photometry lifecycle pass.
type Manager struct {
	records  photometryStore
	triggers triggerReader
	backlog  backlogAppender
	batch    batchAPI
	catalog  catalogAPI
	drainer  drainerAPI
	budget   *queue.Budget
	archive  *Archive
	notifier notify.Notifier
	metrics  metrics.Recorder
	clock    types.Clock
	cfg      config.PhotometryConfig
	contour  float64
	logger   *slog.Logger
}

// ManagerDeps bundles the Manager's collaborators.
type ManagerDeps struct {
	Records  photometryStore
	Triggers triggerReader
	Backlog  backlogAppender
	Batch    batchAPI
	Catalog  catalogAPI
	Drainer  drainerAPI
	Budget   *queue.Budget
	Archive  *Archive
	Notifier notify.Notifier
	Metrics  metrics.Recorder
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewManager creates a photometry Manager.
func NewManager(deps ManagerDeps, cfg *config.Config) *Manager {
	return &Manager{
		records:  deps.Records,
		triggers: deps.Triggers,
		backlog:  deps.Backlog,
		batch:    deps.Batch,
		catalog:  deps.Catalog,
		drainer:  deps.Drainer,
		budget:   deps.Budget,
		archive:  deps.Archive,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		cfg:      cfg.Photometry,
		contour:  cfg.Plan.ProbabilityContour,
		logger:   deps.Logger,
	}
}

// Run executes one full lifecycle pass: reconcile the budget against the
// service, drain the backlog, then sweep every active record.
func (m *Manager) Run(ctx context.Context) error {
	pending, err := m.batch.PendingCount(ctx)
	if err != nil {
		// Without the service's own count the ceiling cannot be enforced
		// safely; skip the pass.
		return err
	}
	m.budget.Reconcile(pending)
	m.metrics.Count(ctx, "PhotometryPendingAtStart", float64(pending))

	drained, err := m.drainer.Drain(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "backlog drain aborted", slog.String("error", err.Error()))
	}
	m.metrics.Count(ctx, "BacklogDrained", float64(drained))

	if err := m.adoptNewEvents(ctx); err != nil {
		m.logger.ErrorContext(ctx, "new event adoption failed", slog.String("error", err.Error()))
	}

	records, err := m.records.ListActive(ctx)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "photometry pass started",
		slog.Int("active_records", len(records)),
	)

	for i := range records {
		rec := &records[i]
		if err := m.processRecord(ctx, rec); err != nil {
			// Scoped to this record; the pass continues.
			m.logger.ErrorContext(ctx, "photometry record failed",
				slog.String("event_id", rec.EventID),
				slog.String("error", err.Error()),
			)
			m.metrics.Count(ctx, "PhotometryRecordFailures", 1)
			if types.IsConsistency(err) {
				m.notifier.Notify(ctx, "Photometry needs manual review",
					rec.EventID+": "+err.Error())
			}
		}
	}
	return nil
}

// adoptNewEvents creates a photometry record for every triggered event that
// does not have one yet, entering it into the lifecycle.
func (m *Manager) adoptNewEvents(ctx context.Context) error {
	triggers, err := m.triggers.ListValid(ctx)
	if err != nil {
		return err
	}
	for i := range triggers {
		trig := &triggers[i]
		existing, err := m.records.Get(ctx, trig.EventID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		rec := &types.PhotometryRecord{EventID: trig.EventID, DateObs: trig.DateObs}
		if err := m.records.Create(ctx, rec); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "photometry record created",
			slog.String("event_id", trig.EventID),
		)
	}
	return nil
}

// processRecord advances one event's lifecycle: window sweep, completion
// checks, then the cadence-driven next submission.
func (m *Manager) processRecord(ctx context.Context, rec *types.PhotometryRecord) error {
	now := m.clock.Now()
	elapsedDays := int(now.Sub(rec.DateObs).Hours() / 24)

	if elapsedDays > m.cfg.WindowDays {
		// Monotonic: once out of the window the event never re-enters.
		rec.Over200Days = true
		m.logger.InfoContext(ctx, "event left observability window",
			slog.String("event_id", rec.EventID),
			slog.Int("elapsed_days", elapsedDays),
		)
		return m.records.Update(ctx, rec)
	}

	changed, err := m.completeSubmissions(ctx, rec)
	if err != nil {
		if changed {
			if updateErr := m.records.Update(ctx, rec); updateErr != nil {
				return updateErr
			}
		}
		return err
	}

	if elapsedDays < m.cfg.NewRequestBufferDays {
		if changed {
			return m.records.Update(ctx, rec)
		}
		return nil
	}

	action, due := m.nextDue(rec, elapsedDays)
	if due {
		submitted, err := m.submitAction(ctx, rec, action, now)
		if err != nil {
			// A partial submission still recorded batch IDs; persist them so
			// completion polling can track what reached the service.
			if changed || submitted {
				if updateErr := m.records.Update(ctx, rec); updateErr != nil {
					return updateErr
				}
			}
			return err
		}
		changed = changed || submitted
	}

	if changed {
		return m.records.Update(ctx, rec)
	}
	return nil
}

// nextDue applies the update cadence: an event is due when elapsed days
// reach offset[i] while scheduled submissions are still under count[i], for
// the smallest unmet i. A first submission is always the "new" action. An
// already-incomplete submission for the action defers new work.
func (m *Manager) nextDue(rec *types.PhotometryRecord, elapsedDays int) (types.SubmissionAction, bool) {
	scheduled := rec.ScheduledSubmissionCount()
	if scheduled == 0 {
		if rec.IncompleteSubmission(types.ActionNew) != nil {
			return "", false
		}
		return types.ActionNew, true
	}

	if rec.IncompleteSubmission(types.ActionUpdate) != nil || rec.IncompleteSubmission(types.ActionNew) != nil {
		return "", false
	}

	for i, offset := range m.cfg.UpdateOffsetsDays {
		if elapsedDays >= offset && scheduled < m.cfg.ExpectedSubmissions[i] {
			return types.ActionUpdate, true
		}
	}
	return "", false
}

// daysToJD converts a staleness threshold in days before now to a Julian
// day bound.
func daysToJD(now time.Time, days int) float64 {
	return types.JulianDay(now.AddDate(0, 0, -days))
}
