// Package ephemeris is the capability port for Sun/Moon positions (spec
// component C2). The production Provider computes positions with the same
// low-precision solar/lunar series the teacher's astronomy package uses
// for sunrise/sunset, extended here to full topocentric azimuth/altitude
// so the alignment solver can sweep an entire day. A deterministic test
// double lives in testdouble.go for exercising solver logic without
// depending on the real math.
package ephemeris

import (
	"context"
	"time"
)

// Body identifies which celestial body a position or rise/set query is for.
type Body string

const (
	Sun  Body = "sun"
	Moon Body = "moon"
)

// Direction selects which crossing RiseSet searches for.
type Direction string

const (
	Rising  Direction = "rising"
	Setting Direction = "setting"
)

// Position is a topocentric azimuth/altitude/distance reading for the Sun.
type Position struct {
	Azimuth     float64 // degrees, 0-360, measured from true North
	Altitude    float64 // degrees, apparent (includes standard refraction)
	DistanceAU  float64 // astronomical units
}

// MoonPosition extends Position with the phase/illumination data only the
// Moon carries.
type MoonPosition struct {
	Position
	DistanceKM   float64
	PhaseDegrees float64 // 0-360, 0 = new moon, 180 = full moon
	Illumination float64 // 0-1
}

// Provider is the capability port every solver/calendar component depends
// on, never on a concrete ephemeris library directly.
type Provider interface {
	SunPosition(ctx context.Context, instant time.Time, lat, lon float64) (Position, error)
	MoonPosition(ctx context.Context, instant time.Time, lat, lon float64) (MoonPosition, error)
	// RiseSet returns the instant the body crosses the horizon in the given
	// direction within searchDays of instant, or nil if no crossing occurs
	// in that window (e.g. polar day/night).
	RiseSet(ctx context.Context, body Body, instant time.Time, lat, lon float64, direction Direction, searchDays int) (*time.Time, error)
}

// MoonIllumination derives illumination in [0,1] from a phase angle in
// degrees, per spec §4.2: the phase folds around 180 degrees (full moon),
// illumination falling symmetrically toward 0 on either side.
func MoonIllumination(phaseDegrees float64) float64 {
	if phaseDegrees <= 180 {
		return phaseDegrees / 180
	}
	return (360 - phaseDegrees) / 180
}
