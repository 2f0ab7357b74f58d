package decision

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/notify"
	"github.com/knolan10/BBHBot/internal/plan"
	"github.com/knolan10/BBHBot/internal/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type fakeStore struct {
	records map[string]*types.TriggerRecord
	created []string
	updated []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*types.TriggerRecord{}}
}

func (s *fakeStore) Get(_ context.Context, eventID string) (*types.TriggerRecord, error) {
	rec, ok := s.records[eventID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) Create(_ context.Context, rec *types.TriggerRecord) error {
	cp := *rec
	s.records[rec.EventID] = &cp
	s.created = append(s.created, rec.EventID)
	return nil
}

func (s *fakeStore) Update(_ context.Context, rec *types.TriggerRecord) error {
	cp := *rec
	s.records[rec.EventID] = &cp
	s.updated = append(s.updated, rec.EventID)
	return nil
}

type fakePlans struct {
	stats     *types.PlanStats
	pollErr   error
	executed  []int64
	withdrawn []int64
	window    plan.Window
}

func (p *fakePlans) Submit(_ context.Context, event types.Event) (string, plan.Window, error) {
	return plan.QueueName(event.ID, p.window.Start), p.window, nil
}

func (p *fakePlans) PollStats(context.Context, string, string) (*types.PlanStats, error) {
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	return p.stats, nil
}

func (p *fakePlans) Execute(_ context.Context, planID int64) error {
	p.executed = append(p.executed, planID)
	return nil
}

func (p *fakePlans) Withdraw(_ context.Context, planID int64) error {
	p.withdrawn = append(p.withdrawn, planID)
	return nil
}

type fakeCoverage struct {
	fraction float64
	start    time.Time
	end      time.Time
}

func (c *fakeCoverage) FractionCovered(_ context.Context, _ string, _ float64, start, end time.Time) (float64, error) {
	c.start, c.end = start, end
	return c.fraction, nil
}

type fakeMass struct {
	chirp     float64
	available bool
	predicted float64
}

func (m *fakeMass) ChirpMass(context.Context, string) (float64, bool, error) {
	return m.chirp, m.available, nil
}

func (m *fakeMass) PredictTotalMass(context.Context, types.Event) (float64, error) {
	return m.predicted, nil
}

// testNow is midday UTC so age and cutoff gates behave predictably.
var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func goodEvent() types.Event {
	return types.Event{
		ID:              "S250101ab",
		ObservedAt:      testNow.Add(-2 * time.Hour),
		Stage:           types.StageInitial,
		Significant:     true,
		Group:           "CBC",
		ProbBBH:         0.92,
		ProbTerrestrial: 0.01,
		FAR:             120,
		DistanceMpc:     800,
		DistanceOK:      true,
		SkyAreaDeg2:     400,
		SkymapName:      "bayestar.fits",
	}
}

func goodStats() *types.PlanStats {
	return &types.PlanStats{
		PlanID:       42,
		TotalTimeSec: 3600,
		Probability:  0.8,
		StartTime:    testNow.Add(6 * time.Hour),
	}
}

type testEnv struct {
	engine   *Engine
	store    *fakeStore
	plans    *fakePlans
	coverage *fakeCoverage
	mass     *fakeMass
	clock    *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		plans:    &fakePlans{stats: goodStats(), window: plan.Window{Start: testNow.Add(6 * time.Hour), End: testNow.Add(21 * time.Hour)}},
		coverage: &fakeCoverage{fraction: 0.1},
		mass:     &fakeMass{chirp: 35, available: true},
		clock:    &fakeClock{now: testNow},
	}

	cfg := &config.Config{
		Admission: config.AdmissionConfig{
			TargetGroup:        "CBC",
			MinProbBBH:         0.5,
			MaxProbTerrestrial: 0.4,
			MinFARYears:        10,
			MaxSkyAreaDeg2:     1000,
			MinTotalMass:       60,
			MinChirpMass:       22,
			MaxEventAge:        24 * time.Hour,
		},
		Plan: config.PlanConfig{
			MaxTotalTimeSec:      5400,
			MinProbability:       0.5,
			SerendipityFactor:    0.9,
			CoverageLookbackDays: 3,
			ProbabilityContour:   0.9,
		},
		Mass: config.MassConfig{
			PollBudget:   600 * time.Second,
			PollInterval: 60 * time.Second,
		},
		Cadence: config.CadenceConfig{
			OffsetsDays: []int{7, 14, 21, 28, 40, 50},
		},
	}

	env.engine = NewEngine(Deps{
		Records:  env.store,
		Plans:    env.plans,
		Coverage: env.coverage,
		Mass:     env.mass,
		Notifier: notify.NopNotifier{},
		Metrics:  metrics.NopRecorder{},
		Clock:    env.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	return env
}

func TestDecide_MalformedIDSkips(t *testing.T) {
	env := newTestEnv(t)

	event := goodEvent()
	event.ID = "GW123"

	outcome, err := env.engine.Decide(context.Background(), event)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Errorf("expected skip, got %s", outcome.Kind)
	}
}

func TestDecide_CommitTriggersAndGeneratesCadence(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionTriggered {
		t.Fatalf("expected triggered, got %s (%s)", outcome.Kind, outcome.Reason)
	}
	if len(env.plans.executed) != 1 || env.plans.executed[0] != 42 {
		t.Errorf("expected plan 42 executed, got %v", env.plans.executed)
	}

	rec := env.store.records["S250101ab"]
	if rec == nil {
		t.Fatal("expected trigger record created")
	}
	if len(rec.PendingPlans) != 1 || rec.PendingPlans[0].PlanID != 42 {
		t.Errorf("expected one pending plan 42, got %+v", rec.PendingPlans)
	}
	if len(rec.CadenceDates) != 6 {
		t.Fatalf("expected 6 cadence dates, got %d", len(rec.CadenceDates))
	}
	if rec.CadenceDates[0] != "2025-01-08" || rec.CadenceDates[5] != "2025-02-20" {
		t.Errorf("unexpected cadence dates: %v", rec.CadenceDates)
	}
}

func TestDecide_InsignificantWithValidRecordRetracts(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["S250101ab"] = &types.TriggerRecord{
		EventID:      "S250101ab",
		Valid:        true,
		PendingPlans: []types.PlanRef{{PlanID: 9, StartTime: testNow.Add(4 * time.Hour)}},
	}

	event := goodEvent()
	event.Significant = false

	outcome, err := env.engine.Decide(context.Background(), event)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionRetracted {
		t.Fatalf("expected retracted, got %s", outcome.Kind)
	}

	rec := env.store.records["S250101ab"]
	if rec.Valid {
		t.Error("expected record invalidated")
	}
	if len(rec.PendingPlans) != 0 {
		t.Errorf("expected pending plans cleared, got %+v", rec.PendingPlans)
	}
	if len(env.plans.withdrawn) != 1 || env.plans.withdrawn[0] != 9 {
		t.Errorf("expected plan 9 withdrawn, got %v", env.plans.withdrawn)
	}
}

func TestDecide_RetractionWithoutRecordSkips(t *testing.T) {
	env := newTestEnv(t)

	event := goodEvent()
	event.Stage = types.StageRetraction

	outcome, err := env.engine.Decide(context.Background(), event)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Errorf("expected skip, got %s", outcome.Kind)
	}
}

func TestDecide_OverlongPlanSkipsWithoutExecution(t *testing.T) {
	env := newTestEnv(t)
	env.plans.stats.TotalTimeSec = 6000

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
	if len(env.plans.executed) != 0 {
		t.Errorf("expected no execution-queue submission, got %v", env.plans.executed)
	}
	if len(env.store.created) != 0 {
		t.Errorf("expected no record created, got %v", env.store.created)
	}
}

func TestDecide_SerendipitousCoverageSkipsLiveTrigger(t *testing.T) {
	env := newTestEnv(t)
	env.coverage.fraction = 0.95
	// 0.95 >= 0.9 * 0.8, so the survey already covered the plan's claim.
	env.plans.stats.Probability = 0.8

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSerendipitous {
		t.Fatalf("expected serendipitous, got %s", outcome.Kind)
	}
	if len(env.plans.executed) != 0 {
		t.Errorf("expected no live trigger, got %v", env.plans.executed)
	}

	rec := env.store.records["S250101ab"]
	if rec == nil {
		t.Fatal("expected record created for bookkeeping")
	}
	if rec.Serendipitous == nil || rec.Serendipitous.PlanID != 42 {
		t.Errorf("expected serendipitous plan 42 recorded, got %+v", rec.Serendipitous)
	}
	if len(rec.CadenceDates) != 6 {
		t.Errorf("expected cadence dates generated, got %v", rec.CadenceDates)
	}
	if len(rec.PendingPlans) != 0 {
		t.Errorf("expected no pending plans, got %+v", rec.PendingPlans)
	}
}

func TestDecide_SerendipityWindowAnchoredAtEventTime(t *testing.T) {
	env := newTestEnv(t)

	event := goodEvent()
	if _, err := env.engine.Decide(context.Background(), event); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Coverage before the event is what can substitute for a trigger;
	// the lookback counts back from when the event was observed.
	if !env.coverage.end.Equal(event.ObservedAt) {
		t.Errorf("expected window ending at the event time %s, got %s", event.ObservedAt, env.coverage.end)
	}
	wantStart := event.ObservedAt.AddDate(0, 0, -3)
	if !env.coverage.start.Equal(wantStart) {
		t.Errorf("expected window starting at %s, got %s", wantStart, env.coverage.start)
	}
}

func TestDecide_ResubmitBeforeCutoffReplacesPlan(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["S250101ab"] = &types.TriggerRecord{
		EventID: "S250101ab",
		DateObs: testNow.Add(-2 * time.Hour),
		Valid:   true,
		// Old plan has not started yet.
		PendingPlans: []types.PlanRef{{PlanID: 9, StartTime: testNow.Add(5 * time.Hour)}},
		CadenceDates: types.GenerateCadenceDates(testNow, []int{7, 14, 21, 28, 40, 50}),
	}

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionTriggered {
		t.Fatalf("expected triggered, got %s (%s)", outcome.Kind, outcome.Reason)
	}
	if len(env.plans.withdrawn) != 1 || env.plans.withdrawn[0] != 9 {
		t.Errorf("expected old plan 9 withdrawn first, got %v", env.plans.withdrawn)
	}

	rec := env.store.records["S250101ab"]
	if len(rec.PendingPlans) != 1 || rec.PendingPlans[0].PlanID != 42 {
		t.Errorf("expected exactly one pending plan 42, got %+v", rec.PendingPlans)
	}
}

func TestDecide_ResubmitAfterCutoffSkips(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["S250101ab"] = &types.TriggerRecord{
		EventID: "S250101ab",
		Valid:   true,
		// Old plan already started.
		PendingPlans: []types.PlanRef{{PlanID: 9, StartTime: testNow.Add(-time.Hour)}},
	}

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
	if len(env.plans.withdrawn) != 0 {
		t.Errorf("expected started plan left alone, got withdrawals %v", env.plans.withdrawn)
	}
}

func TestDecide_ForeignTriggerSkips(t *testing.T) {
	env := newTestEnv(t)
	env.plans.stats.AlreadySubmitted = true

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
	if len(env.plans.executed) != 0 {
		t.Errorf("expected no double-trigger, got %v", env.plans.executed)
	}
}

func TestDecide_StaleEventSkips(t *testing.T) {
	env := newTestEnv(t)

	event := goodEvent()
	event.ObservedAt = testNow.Add(-48 * time.Hour)

	outcome, err := env.engine.Decide(context.Background(), event)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
}

func TestDecide_LowChirpMassSkips(t *testing.T) {
	env := newTestEnv(t)
	env.mass.chirp = 10

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
}

func TestDecide_UnavailableChirpFallsBackToPrediction(t *testing.T) {
	env := newTestEnv(t)
	env.mass.available = false
	env.mass.predicted = 90

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if outcome.Kind != types.DecisionTriggered {
		t.Fatalf("expected triggered via prediction fallback, got %s (%s)", outcome.Kind, outcome.Reason)
	}
}

func TestDecide_PlanStatsTimeoutSkips(t *testing.T) {
	env := newTestEnv(t)
	env.plans.pollErr = types.NewAppError(types.ErrCodeTimeoutPlanStats, "budget exhausted", nil)

	outcome, err := env.engine.Decide(context.Background(), goodEvent())
	if err != nil {
		t.Fatalf("expected timeout handled as skip, got: %v", err)
	}
	if outcome.Kind != types.DecisionSkip {
		t.Fatalf("expected skip, got %s", outcome.Kind)
	}
}
