// Package schedule computes boundary-aligned wait durations so that polling
// cycles land on predictable wall-clock minutes instead of drifting.
package schedule

import (
	"fmt"
	"time"
)

// MinWait is the shortest wait Next will return.
const MinWait = time.Second

// Validate checks that interval is a whole number of minutes within an hour.
func Validate(intervalMinutes int) error {
	if intervalMinutes < 1 || intervalMinutes > 60 {
		return fmt.Errorf("interval must be between 1 and 60 minutes, got %d", intervalMinutes)
	}
	return nil
}

// Next returns how long to wait from now until the next boundary, and the
// boundary itself. A boundary is a minute on the hour that is a multiple of
// intervalMinutes; when the multiple would reach 60 it rolls to minute 0 of
// the next hour (and day, month, year as needed).
//
// Boundaries are computed at the UTC offset in effect at now, so a daylight
// saving transition cannot move one into the past. If the boundary is less
// than MinWait away, the following boundary is used so the caller never
// busy-loops; should that still fall short, a full interval is waited.
func Next(intervalMinutes int, now time.Time) (time.Duration, time.Time) {
	if intervalMinutes < 1 {
		intervalMinutes = 1
	}

	name, offset := now.Zone()
	fixed := now.In(time.FixedZone(name, offset))

	boundary := nextBoundary(intervalMinutes, fixed)
	if boundary.Sub(now) < MinWait {
		boundary = nextBoundary(intervalMinutes, boundary)
	}
	wait := boundary.Sub(now)
	if wait < MinWait {
		wait = time.Duration(intervalMinutes) * time.Minute
		boundary = now.Add(wait)
	}
	return wait, boundary.In(now.Location())
}

func nextBoundary(intervalMinutes int, now time.Time) time.Time {
	target := (now.Minute()/intervalMinutes + 1) * intervalMinutes
	if target >= 60 {
		// time.Date normalises hour 24 into the next day.
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
	}
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), target, 0, 0, now.Location())
}
