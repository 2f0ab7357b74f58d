package types

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"S250101az", true},
		{"S240920bc", true},
		{"MS250101az", false},
		{"S250101", false},
		{"S2501az", false},
		{"s250101az", false},
		{"", false},
	}
	for _, tc := range cases {
		e := Event{ID: tc.id}
		assert.Equal(t, tc.valid, e.ValidID(), "id %q", tc.id)
	}
}

func TestGenerateCadenceDates(t *testing.T) {
	eventDate := time.Date(2025, 1, 1, 18, 30, 0, 0, time.UTC)
	dates := GenerateCadenceDates(eventDate, []int{7, 14, 21, 28, 40, 50})

	require.Equal(t, []string{
		"2025-01-08", "2025-01-15", "2025-01-22",
		"2025-01-29", "2025-02-10", "2025-02-20",
	}, dates)

	// Regeneration from the same event date is idempotent.
	assert.Equal(t, dates, GenerateCadenceDates(eventDate, []int{7, 14, 21, 28, 40, 50}))
}

func TestTriggerRecordRemovePending(t *testing.T) {
	rec := &TriggerRecord{PendingPlans: []PlanRef{{PlanID: 1}, {PlanID: 2}, {PlanID: 3}}}

	require.True(t, rec.RemovePending(2))
	assert.Equal(t, []PlanRef{{PlanID: 1}, {PlanID: 3}}, rec.PendingPlans)
	assert.False(t, rec.RemovePending(2))
	assert.True(t, rec.HasPending())
}

func TestTriggerRecordCadenceDueOn(t *testing.T) {
	rec := &TriggerRecord{CadenceDates: []string{"2025-01-08", "2025-01-15"}}
	assert.True(t, rec.CadenceDueOn("2025-01-08"))
	assert.False(t, rec.CadenceDueOn("2025-01-09"))
}

func TestPhotometryRecordScheduledSubmissionCount(t *testing.T) {
	rec := &PhotometryRecord{Submissions: []Submission{
		{Action: ActionNew, Complete: true},
		{Action: ActionNew, Complete: true, FromQueue: true},
		{Action: ActionUpdate},
	}}
	// Backlog resubmissions never advance the cadence.
	assert.Equal(t, 2, rec.ScheduledSubmissionCount())
}

func TestPhotometryRecordIncompleteSubmission(t *testing.T) {
	rec := &PhotometryRecord{Submissions: []Submission{
		{Action: ActionNew, Complete: true},
		{Action: ActionUpdate, Sentinel: "NA"},
		{Action: ActionUpdate},
	}}
	require.Nil(t, rec.IncompleteSubmission(ActionNew))
	got := rec.IncompleteSubmission(ActionUpdate)
	require.NotNil(t, got)
	assert.Empty(t, got.Sentinel)
}

func TestQueueEntryDateRange(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	empty := QueueEntry{}
	start, end := empty.DateRange(now)
	assert.Zero(t, start)
	assert.InDelta(t, JulianDay(now), end, 1e-9)

	entry := QueueEntry{Dates: []float64{130, 100, 250}}
	start, end = entry.DateRange(now)
	assert.Equal(t, 100.0, start)
	assert.Equal(t, 250.0, end)
}

func TestJulianDayRoundTrip(t *testing.T) {
	// J2000.0 reference epoch.
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 2451545.0, JulianDay(j2000), 1e-6)

	now := time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC)
	back := FromJulianDay(JulianDay(now))
	assert.WithinDuration(t, now, back, time.Millisecond)
}

func TestSecretStringNeverLeaks(t *testing.T) {
	s := NewSecretString("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "hunter2", s.Reveal())

	raw, err := json.Marshal(struct {
		Token SecretString `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(raw))
}
