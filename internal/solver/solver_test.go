package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/ephemeris"
)

func TestSolveFindsDiamondSunriseCandidate(t *testing.T) {
	site := domain.Site{
		ID:                 1,
		Latitude:           35.0,
		Longitude:          139.0,
		AzimuthToApexDeg:   90.0,
		ElevationToApexDeg: 3.0,
	}

	target := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)

	fp := &ephemeris.FixedProvider{
		SunFunc: func(instant time.Time, lat, lon float64) (ephemeris.Position, error) {
			if instant.Equal(target) {
				return ephemeris.Position{Azimuth: 90.2, Altitude: 10, DistanceAU: 1}, nil
			}
			return ephemeris.Position{Azimuth: 200, Altitude: -10, DistanceAU: 1}, nil
		},
	}

	sv := New(fp)
	events, err := sv.Solve(context.Background(), site, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC,
		[]domain.EventType{domain.DiamondSunrise}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.DiamondSunrise, ev.EventType)
	assert.InDelta(t, 90.2, ev.CelestialAzimuth, 1e-9)
	assert.InDelta(t, 3.0, ev.ApexElevation, 1e-9)
	assert.Nil(t, ev.MoonPhaseDegrees)
	assert.GreaterOrEqual(t, ev.QualityScore, 0)
}

func TestSolveRejectsBelowMinVisibleAltitude(t *testing.T) {
	site := domain.Site{Latitude: 35, Longitude: 139, AzimuthToApexDeg: 90, ElevationToApexDeg: 2}

	fp := &ephemeris.FixedProvider{
		SunFunc: func(instant time.Time, lat, lon float64) (ephemeris.Position, error) {
			return ephemeris.Position{Azimuth: 90, Altitude: -20}, nil
		},
	}

	sv := New(fp)
	events, err := sv.Solve(context.Background(), site, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC,
		[]domain.EventType{domain.DiamondSunrise}, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSolveDropsLowIlluminationPearlCandidate(t *testing.T) {
	site := domain.Site{Latitude: 35, Longitude: 139, AzimuthToApexDeg: 270, ElevationToApexDeg: 4}
	target := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fp := &ephemeris.FixedProvider{
		MoonFunc: func(instant time.Time, lat, lon float64) (ephemeris.MoonPosition, error) {
			if instant.Equal(target) {
				return ephemeris.MoonPosition{
					Position:     ephemeris.Position{Azimuth: 270.1, Altitude: 20},
					PhaseDegrees: 10,
					Illumination: 0.05,
				}, nil
			}
			return ephemeris.MoonPosition{Position: ephemeris.Position{Azimuth: 0, Altitude: -10}}, nil
		},
		RiseSetFunc: func(body ephemeris.Body, instant time.Time, lat, lon float64, direction ephemeris.Direction, searchDays int) (*time.Time, error) {
			return &target, nil
		},
	}

	sv := New(fp)
	events, err := sv.Solve(context.Background(), site, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC,
		[]domain.EventType{domain.PearlSetting}, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSolveRejectsNonFiniteGeometry(t *testing.T) {
	site := domain.Site{Latitude: 35, Longitude: 139, AzimuthToApexDeg: 90, ElevationToApexDeg: 0}
	site.ElevationToApexDeg = posInf()

	fp := &ephemeris.FixedProvider{
		SunFunc: func(instant time.Time, lat, lon float64) (ephemeris.Position, error) {
			return ephemeris.Position{}, nil
		},
	}

	sv := New(fp)
	_, err := sv.Solve(context.Background(), site, time.Now().UTC(), time.UTC, []domain.EventType{domain.DiamondSunrise}, DefaultOptions())
	assert.Error(t, err)
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}

func TestQualityScoreMonotonicInAzimuthDiff(t *testing.T) {
	better := qualityScore(0.1, 2.0, 10)
	worse := qualityScore(1.9, 2.0, 10)
	assert.Greater(t, better, worse)
}

// TestGroupCandidatesSunUsesBearingOnly guards against regressing to an
// altitude-trend heuristic for the Sun (spec §4.3 step 5 mandates bearing
// only). Two candidates in the same elevation band have a falling
// altitude trend between them; if that trend leaked into Sun
// classification they would split into two spurious groups.
func TestGroupCandidatesSunUsesBearingOnly(t *testing.T) {
	site := domain.Site{AzimuthToApexDeg: 90, Latitude: 35, Longitude: 139}
	sv := New(&ephemeris.FixedProvider{})

	candidates := []candidate{
		{instant: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), bodyAltitude: 4.5},
		{instant: time.Date(2026, 3, 1, 6, 0, 30, 0, time.UTC), bodyAltitude: 4},
	}

	groups := sv.groupCandidates(context.Background(), candidates, site, ephemeris.Sun, maxAltitudeSun)
	require.Len(t, groups, 1)
	for key, group := range groups {
		assert.True(t, key.rising)
		assert.Len(t, group, 2)
	}
}

// TestGroupCandidatesMoonSamplesAltitudeWindow exercises the Moon's
// ±10min altitude-trend classification even when it disagrees with
// the site's bearing, per spec §4.3 step 5.
func TestGroupCandidatesMoonSamplesAltitudeWindow(t *testing.T) {
	site := domain.Site{AzimuthToApexDeg: 270, Latitude: 35, Longitude: 139}
	candidateTime := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	fp := &ephemeris.FixedProvider{
		MoonFunc: func(instant time.Time, lat, lon float64) (ephemeris.MoonPosition, error) {
			if instant.Before(candidateTime) {
				return ephemeris.MoonPosition{Position: ephemeris.Position{Altitude: 10}}, nil
			}
			return ephemeris.MoonPosition{Position: ephemeris.Position{Altitude: 20}}, nil
		},
	}
	sv := New(fp)

	candidates := []candidate{{instant: candidateTime, bodyAltitude: 15}}
	groups := sv.groupCandidates(context.Background(), candidates, site, ephemeris.Moon, maxAltitudeMoon)
	require.Len(t, groups, 1)
	for key := range groups {
		assert.True(t, key.rising, "climbing altitude across the ±10min window should classify as rising despite a falling bearing")
	}
}

// TestGroupCandidatesMoonFallsBackToBearingOnSampleError exercises the
// fallback path when the ephemeris port can't serve the altitude sample.
func TestGroupCandidatesMoonFallsBackToBearingOnSampleError(t *testing.T) {
	site := domain.Site{AzimuthToApexDeg: 270, Latitude: 35, Longitude: 139}

	fp := &ephemeris.FixedProvider{
		MoonFunc: func(instant time.Time, lat, lon float64) (ephemeris.MoonPosition, error) {
			return ephemeris.MoonPosition{}, assert.AnError
		},
	}
	sv := New(fp)

	candidates := []candidate{{instant: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), bodyAltitude: 15}}
	groups := sv.groupCandidates(context.Background(), candidates, site, ephemeris.Moon, maxAltitudeMoon)
	require.Len(t, groups, 1)
	for key := range groups {
		assert.False(t, key.rising, "a failed altitude sample should fall back to bearing (270 >= 180 -> setting)")
	}
}

func TestStepAccuracyBands(t *testing.T) {
	th := defaultThresholds()
	assert.Equal(t, domain.AccuracyPerfect, stepAccuracy(0.05, th))
	assert.Equal(t, domain.AccuracyExcellent, stepAccuracy(0.2, th))
	assert.Equal(t, domain.AccuracyGood, stepAccuracy(0.35, th))
	assert.Equal(t, domain.AccuracyFair, stepAccuracy(0.9, th))
}
