package ephemeris

import (
	"context"
	"time"
)

// FixedProvider is a deterministic ephemeris double: it returns positions
// from a function of (instant, lat, lon) supplied by the caller, letting
// solver tests exercise tolerance/grouping logic without depending on real
// astronomical math. This is the "injected capability port" test double
// spec §9 calls for.
type FixedProvider struct {
	SunFunc  func(instant time.Time, lat, lon float64) (Position, error)
	MoonFunc func(instant time.Time, lat, lon float64) (MoonPosition, error)
	RiseSetFunc func(body Body, instant time.Time, lat, lon float64, direction Direction, searchDays int) (*time.Time, error)
}

func (f *FixedProvider) SunPosition(ctx context.Context, instant time.Time, lat, lon float64) (Position, error) {
	return f.SunFunc(instant, lat, lon)
}

func (f *FixedProvider) MoonPosition(ctx context.Context, instant time.Time, lat, lon float64) (MoonPosition, error) {
	return f.MoonFunc(instant, lat, lon)
}

func (f *FixedProvider) RiseSet(ctx context.Context, body Body, instant time.Time, lat, lon float64, direction Direction, searchDays int) (*time.Time, error) {
	if f.RiseSetFunc == nil {
		return nil, nil
	}
	return f.RiseSetFunc(body, instant, lat, lon, direction, searchDays)
}
