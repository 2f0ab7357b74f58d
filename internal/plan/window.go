// Package plan owns plan request submission and statistics polling, plus the
// observing-window arithmetic that anchors plan start times to the site's
// night.
package plan

import (
	"math"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// Window is one nightly observing window.
type Window struct {
	Start time.Time
	End   time.Time
}

// windowLength is how long past its start a plan window stays open.
const windowLength = 15 * time.Hour

// startLead is how far before sunset the window opens, covering twilight
// setup.
const startLead = time.Hour

// WindowCalc computes observing windows for a fixed site.
type WindowCalc struct {
	latDeg float64
	lonDeg float64
}

// NewWindowCalc creates a WindowCalc for the configured site.
func NewWindowCalc(cfg config.SiteConfig) *WindowCalc {
	return &WindowCalc{latDeg: cfg.LatitudeDeg, lonDeg: cfg.LongitudeDeg}
}

// Next returns the observing window a plan submitted at now should target.
// During daytime the window opens one hour before the coming sunset; during
// nighttime it opens immediately so the plan can start on the current night.
func (c *WindowCalc) Next(now time.Time) Window {
	now = now.UTC()
	rise, set := c.sunTimes(now)

	var start time.Time
	switch {
	case now.Before(rise) || now.After(set):
		start = now
	default:
		start = set.Add(-startLead)
	}
	return Window{Start: start, End: start.Add(windowLength)}
}

// BeforeCutoff reports whether a replacement trigger at now can still land
// before the existing plan starts observing. Past the cutoff the queued plan
// is left alone and the newer alert only refreshes record metadata.
func BeforeCutoff(now, planStart time.Time) bool {
	return now.Before(planStart)
}

// sunTimes returns sunrise and sunset (UTC) for the civil day containing t,
// using the NOAA approximation of the sunrise equation. Accuracy is a few
// minutes, which is ample for window anchoring.
func (c *WindowCalc) sunTimes(t time.Time) (rise, set time.Time) {
	const (
		j2000       = 2451545.0
		obliquity   = 23.4397 // degrees
		sunAltitude = -0.833  // degrees, refraction + solar radius
	)

	day := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)
	jd := types.JulianDay(day)

	n := math.Round(jd - j2000 + 0.0008)
	meanSolarTime := n - c.lonDeg/360.0

	meanAnomaly := math.Mod(357.5291+0.98560028*meanSolarTime, 360)
	mRad := radians(meanAnomaly)
	center := 1.9148*math.Sin(mRad) + 0.0200*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	eclipticLon := math.Mod(meanAnomaly+center+180+102.9372, 360)
	lRad := radians(eclipticLon)

	transit := j2000 + meanSolarTime + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lRad)

	sinDecl := math.Sin(lRad) * math.Sin(radians(obliquity))
	decl := math.Asin(sinDecl)
	latRad := radians(c.latDeg)

	cosHourAngle := (math.Sin(radians(sunAltitude)) - math.Sin(latRad)*sinDecl) /
		(math.Cos(latRad) * math.Cos(decl))
	// Polar day or night never occurs at mid-latitude sites; clamp anyway.
	cosHourAngle = math.Max(-1, math.Min(1, cosHourAngle))
	hourAngle := degrees(math.Acos(cosHourAngle))

	rise = types.FromJulianDay(transit - hourAngle/360.0)
	set = types.FromJulianDay(transit + hourAngle/360.0)
	return rise, set
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
