package types

import "time"

// unixEpochJD is the Julian day number of the Unix epoch.
const unixEpochJD = 2440587.5

// JulianDay converts a time to a Julian day number. The batch photometry
// service and the update-date bookkeeping both work in Julian days.
func JulianDay(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixMilli())/86400000.0
}

// FromJulianDay converts a Julian day number back to UTC time.
func FromJulianDay(jd float64) time.Time {
	ms := (jd - unixEpochJD) * 86400000.0
	return time.UnixMilli(int64(ms)).UTC()
}
