package ephemeris

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSunPositionIsPlausible(t *testing.T) {
	p := NewAlgorithmicProvider()
	noon := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	pos, err := p.SunPosition(context.Background(), noon, 35.0, 139.0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, pos.Azimuth, 0.0)
	assert.Less(t, pos.Azimuth, 360.0)
	assert.InDelta(t, 1.0, pos.DistanceAU, 0.05)
}

func TestMoonIlluminationFormula(t *testing.T) {
	assert.InDelta(t, 0.0, MoonIllumination(0), 1e-9)
	assert.InDelta(t, 1.0, MoonIllumination(180), 1e-9)
	assert.InDelta(t, 0.5, MoonIllumination(90), 1e-9)
	assert.InDelta(t, 0.5, MoonIllumination(270), 1e-9)
	assert.InDelta(t, 0.0, MoonIllumination(360), 1e-9)
}

func TestMoonPositionFields(t *testing.T) {
	p := NewAlgorithmicProvider()
	instant := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	moon, err := p.MoonPosition(context.Background(), instant, 35.0, 139.0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, moon.PhaseDegrees, 0.0)
	assert.Less(t, moon.PhaseDegrees, 360.0)
	assert.GreaterOrEqual(t, moon.Illumination, 0.0)
	assert.LessOrEqual(t, moon.Illumination, 1.0)
	assert.Greater(t, moon.DistanceKM, 300000.0)
	assert.Less(t, moon.DistanceKM, 450000.0)
}

func TestRiseSetFindsACrossing(t *testing.T) {
	p := NewAlgorithmicProvider()
	start := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)

	crossing, err := p.RiseSet(context.Background(), Sun, start, 35.0, 139.0, Rising, 1)
	require.NoError(t, err)
	require.NotNil(t, crossing)
	assert.True(t, crossing.After(start))
	assert.True(t, crossing.Before(start.Add(24*time.Hour)))
}

func TestFixedProviderDouble(t *testing.T) {
	called := false
	fp := &FixedProvider{
		SunFunc: func(instant time.Time, lat, lon float64) (Position, error) {
			called = true
			return Position{Azimuth: 90, Altitude: 10, DistanceAU: 1}, nil
		},
		MoonFunc: func(instant time.Time, lat, lon float64) (MoonPosition, error) {
			return MoonPosition{Position: Position{Azimuth: 270, Altitude: 20}}, nil
		},
	}

	pos, err := fp.SunPosition(context.Background(), time.Now(), 0, 0)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 90.0, pos.Azimuth)

	moonPos, err := fp.MoonPosition(context.Background(), time.Now(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 270.0, moonPos.Azimuth)

	crossing, err := fp.RiseSet(context.Background(), Sun, time.Now(), 0, 0, Rising, 1)
	require.NoError(t, err)
	assert.Nil(t, crossing)
}
