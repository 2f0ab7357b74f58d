package plan

import (
	"testing"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
)

func palomarCalc() *WindowCalc {
	return NewWindowCalc(config.SiteConfig{
		LatitudeDeg:  33.3564,
		LongitudeDeg: -116.865,
	})
}

func TestSunTimes_WinterDaylightLength(t *testing.T) {
	calc := palomarCalc()

	day := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)
	rise, set := calc.sunTimes(day)

	if !set.After(rise) {
		t.Fatalf("sunset %v not after sunrise %v", set, rise)
	}

	daylight := set.Sub(rise)
	// Mid-latitude January daylight runs roughly ten hours.
	if daylight < 9*time.Hour || daylight > 11*time.Hour {
		t.Errorf("expected ~10h of January daylight, got %v", daylight)
	}
}

func TestSunTimes_SummerLongerThanWinter(t *testing.T) {
	calc := palomarCalc()

	winterRise, winterSet := calc.sunTimes(time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC))
	summerRise, summerSet := calc.sunTimes(time.Date(2025, 7, 15, 18, 0, 0, 0, time.UTC))

	if summerSet.Sub(summerRise) <= winterSet.Sub(winterRise) {
		t.Error("expected July daylight to exceed January daylight")
	}
}

func TestNext_DaytimeAnchorsToSunset(t *testing.T) {
	calc := palomarCalc()

	// Midday at the site.
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	_, set := calc.sunTimes(now)
	if !now.Before(set) {
		t.Fatalf("test premise broken: %v is not before sunset %v", now, set)
	}

	w := calc.Next(now)
	if !w.Start.Equal(set.Add(-time.Hour)) {
		t.Errorf("expected window start 1h before sunset %v, got %v", set, w.Start)
	}
	if got := w.End.Sub(w.Start); got != 15*time.Hour {
		t.Errorf("expected 15h window, got %v", got)
	}
}

func TestNext_NighttimeStartsImmediately(t *testing.T) {
	calc := palomarCalc()

	base := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	_, set := calc.sunTimes(base)
	now := set.Add(2 * time.Hour)

	w := calc.Next(now)
	if !w.Start.Equal(now) {
		t.Errorf("expected nighttime window to start immediately at %v, got %v", now, w.Start)
	}
	if got := w.End.Sub(w.Start); got != 15*time.Hour {
		t.Errorf("expected 15h window, got %v", got)
	}
}

func TestNext_PreDawnStartsImmediately(t *testing.T) {
	calc := palomarCalc()

	base := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	rise, _ := calc.sunTimes(base)
	now := rise.Add(-30 * time.Minute)

	w := calc.Next(now)
	if !w.Start.Equal(now) {
		t.Errorf("expected pre-dawn window to start immediately at %v, got %v", now, w.Start)
	}
}

func TestBeforeCutoff(t *testing.T) {
	planStart := time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)

	if !BeforeCutoff(planStart.Add(-time.Hour), planStart) {
		t.Error("expected time before plan start to be before cutoff")
	}
	if BeforeCutoff(planStart.Add(time.Minute), planStart) {
		t.Error("expected time after plan start to be after cutoff")
	}
}
