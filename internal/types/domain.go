// Package types defines the domain model shared across the follow-up
// pipeline: candidate events, trigger records, photometry pipeline records,
// the backlog queue entry, and the decision outcome variant. It also carries
// the error taxonomy and the injectable clock.
package types

import (
	"regexp"
	"time"
)

// CivilDateLayout is the calendar-date format used for cadence bookkeeping.
// Cadence comparisons are whole-day, timezone-naive on purpose.
const CivilDateLayout = "2006-01-02"

// Event is one parsed candidate alert from the stream. Immutable once
// received; a later alert with the same ID and a newer stage supersedes it.
type Event struct {
	ID              string     `json:"id"`
	ObservedAt      time.Time  `json:"observed_at"`
	Stage           AlertStage `json:"alert_stage"`
	Significant     bool       `json:"significant"`
	Group           string     `json:"group"`
	ProbBBH         float64    `json:"prob_bbh"`
	ProbTerrestrial float64    `json:"prob_terrestrial"`
	// FAR is the false-alarm rate expressed in years per false alarm;
	// larger is more confident.
	FAR         float64 `json:"far_years"`
	DistanceMpc float64 `json:"distance_mpc"`
	// DistanceOK is false when the alert carried no usable distance estimate.
	DistanceOK  bool    `json:"distance_ok"`
	SkyAreaDeg2 float64 `json:"sky_area_deg2"`
	SkymapName  string  `json:"skymap_name"`
}

var eventIDPattern = regexp.MustCompile(`^S[0-9]{6}[a-z]+$`)

// ValidID reports whether the event carries a structurally valid superevent
// identifier.
func (e Event) ValidID() bool {
	return eventIDPattern.MatchString(e.ID)
}

// PlanRef identifies one submitted observation plan and its scheduled start.
type PlanRef struct {
	PlanID    int64     `json:"plan_id"`
	StartTime time.Time `json:"start_time"`
}

// PlanStats are the statistics the planning service computes for a requested
// plan.
type PlanStats struct {
	PlanID           int64
	TotalTimeSec     float64
	Probability      float64
	StartTime        time.Time
	AlreadySubmitted bool
}

// GCNMeta preserves provenance of the alert that created or last updated a
// trigger record.
type GCNMeta struct {
	Stage      AlertStage `json:"stage"`
	SkymapName string     `json:"skymap_name"`
}

// TriggerRecord is the persisted per-event trigger state. Created on the
// first successful trigger decision and never deleted; Valid=false marks a
// retracted record whose queued plans must be withdrawn.
type TriggerRecord struct {
	EventID      string    `json:"event_id"`
	DateObs      time.Time `json:"date_obs"`
	Valid        bool      `json:"valid"`
	PendingPlans []PlanRef `json:"pending_plans"`
	Unsuccessful []PlanRef `json:"unsuccessful_observations"`
	Successful   []PlanRef `json:"successful_observations"`
	// Serendipitous is set when recent survey coverage replaced a live
	// trigger for the current cycle; mutually exclusive with PendingPlans
	// for that cycle.
	Serendipitous *PlanRef `json:"serendipitous_observation,omitempty"`
	// CadenceDates are civil dates (CivilDateLayout) on which a follow-up
	// trigger is due. Generated once at first trigger.
	CadenceDates []string `json:"cadence_dates"`
	GCN          GCNMeta  `json:"gcn_meta"`
	// Version guards read-modify-write cycles; updates compare-and-set on it.
	Version int64 `json:"-"`
}

// HasPending reports whether any plan is awaiting observation.
func (r *TriggerRecord) HasPending() bool {
	return len(r.PendingPlans) > 0
}

// RemovePending deletes the plan with the given ID from PendingPlans and
// reports whether it was present.
func (r *TriggerRecord) RemovePending(planID int64) bool {
	for i, p := range r.PendingPlans {
		if p.PlanID == planID {
			r.PendingPlans = append(r.PendingPlans[:i], r.PendingPlans[i+1:]...)
			return true
		}
	}
	return false
}

// CadenceDueOn reports whether the record has a follow-up scheduled for the
// given civil date.
func (r *TriggerRecord) CadenceDueOn(date string) bool {
	for _, d := range r.CadenceDates {
		if d == date {
			return true
		}
	}
	return false
}

// GenerateCadenceDates returns the civil dates at eventDate + each offset in
// days. The offsets are a fixed tunable set; regeneration from the same
// eventDate is idempotent.
func GenerateCadenceDates(eventDate time.Time, offsetsDays []int) []string {
	day := time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, time.UTC)
	dates := make([]string, 0, len(offsetsDays))
	for _, offset := range offsetsDays {
		dates = append(dates, day.AddDate(0, 0, offset).Format(CivilDateLayout))
	}
	return dates
}

// Coordinate is one catalog sky position submitted to the batch photometry
// service.
type Coordinate struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Submission records one bulk photometry request for an event.
type Submission struct {
	Action           SubmissionAction `json:"action"`
	SubmittedAt      time.Time        `json:"submission_date"`
	NumSubmitted     int              `json:"num_submitted"`
	BatchesSubmitted int              `json:"num_batches_submitted"`
	BatchIDs         []string         `json:"batch_ids,omitempty"`
	NumberReturned   int              `json:"number_returned"`
	NumberBroken     int              `json:"number_broken"`
	Complete         bool             `json:"complete"`
	FromQueue        bool             `json:"from_queue"`
	// Sentinel is set when there were no coordinates to submit ("NA").
	Sentinel string `json:"sentinel,omitempty"`
}

// PhotometryRecord is the persisted per-event photometry pipeline state.
type PhotometryRecord struct {
	EventID     string       `json:"event_id"`
	DateObs     time.Time    `json:"date_obs"`
	Over200Days bool         `json:"over_200_days"`
	Submissions []Submission `json:"submissions"`
	Version     int64        `json:"-"`
}

// IncompleteSubmission returns the first incomplete non-sentinel submission
// matching the action, or nil.
func (p *PhotometryRecord) IncompleteSubmission(action SubmissionAction) *Submission {
	for i := range p.Submissions {
		s := &p.Submissions[i]
		if s.Action == action && !s.Complete && s.Sentinel == "" {
			return s
		}
	}
	return nil
}

// ScheduledSubmissionCount counts submissions that originated from the
// cadence schedule rather than the backlog queue. Backlog resubmissions do
// not advance the cadence.
func (p *PhotometryRecord) ScheduledSubmissionCount() int {
	n := 0
	for _, s := range p.Submissions {
		if !s.FromQueue {
			n++
		}
	}
	return n
}

// QueueEntry is one persisted backlog unit: a photometry request deferred
// because the global in-flight ceiling was reached.
type QueueEntry struct {
	ID             int64            `json:"id"`
	EventID        string           `json:"event_id"`
	Coords         []Coordinate     `json:"coords"`
	Dates          []float64        `json:"dates"`
	Action         SubmissionAction `json:"action"`
	NumberToSubmit int              `json:"number_to_submit"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DateRange returns the Julian-day span the entry's request covers. Entries
// with no recorded dates cover everything up to now.
func (q QueueEntry) DateRange(now time.Time) (jdStart, jdEnd float64) {
	if len(q.Dates) == 0 {
		return 0, JulianDay(now)
	}
	jdStart, jdEnd = q.Dates[0], q.Dates[0]
	for _, d := range q.Dates[1:] {
		if d < jdStart {
			jdStart = d
		}
		if d > jdEnd {
			jdEnd = d
		}
	}
	return jdStart, jdEnd
}

// DecisionOutcome is the tagged result of running one event through the
// admission pipeline.
type DecisionOutcome struct {
	Kind DecisionKind
	// Reason is set for skips and retractions.
	Reason string
	// Stats is set for triggered and serendipitous outcomes.
	Stats *PlanStats
}

// RetriggerCandidate is a cadence- or retry-driven request to run the plan
// pipeline again for a previously triggered event.
type RetriggerCandidate struct {
	Reason  RetriggerReason
	EventID string
	DateObs time.Time
}
