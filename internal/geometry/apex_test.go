package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAzimuthAndDistanceToApex(t *testing.T) {
	observer := Point{Latitude: 35.0000, Longitude: 139.0000}
	apex := Apex{Point: Point{Latitude: 35.7100, Longitude: 139.8108}, HeightMeters: 634}

	az := AzimuthToApex(observer, apex)
	assert.InDelta(t, 48.5, az, 1.0, "bearing should land in the 48-49 degree range")

	dist := DistanceToApex(observer, apex)
	assert.InDelta(t, 108000.0, dist, 2000.0, "distance should be ~108km")
}

func TestElevationToApex(t *testing.T) {
	tests := []struct {
		name       string
		observer   Point
		elevation  float64
		apex       Apex
		wantSign   float64 // +1 positive, -1 negative, 0 unchecked
	}{
		{
			name:      "observer far below a tall apex sees positive elevation",
			observer:  Point{Latitude: 35.0, Longitude: 139.0},
			elevation: 10,
			apex:      Apex{Point: Point{Latitude: 35.05, Longitude: 139.05}, HeightMeters: 634},
			wantSign:  1,
		},
		{
			name:      "observer far away and above a short apex sees negative elevation",
			observer:  Point{Latitude: 35.0, Longitude: 139.0},
			elevation: 2000,
			apex:      Apex{Point: Point{Latitude: 36.5, Longitude: 140.5}, HeightMeters: 50},
			wantSign:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, err := ElevationToApex(tt.observer, tt.elevation, tt.apex)
			require.NoError(t, err)
			if tt.wantSign > 0 {
				assert.Greater(t, el, 0.0)
			} else if tt.wantSign < 0 {
				assert.Less(t, el, 0.0)
			}
		})
	}
}

func TestElevationToApexAtBase(t *testing.T) {
	// Observer essentially at the apex base: horizontal distance ~0, so the
	// result should approach +90 degrees.
	observer := Point{Latitude: 35.0, Longitude: 139.0}
	apex := Apex{Point: Point{Latitude: 35.0, Longitude: 139.0}, HeightMeters: 300}

	el, err := ElevationToApex(observer, 0, apex)
	require.NoError(t, err)
	assert.Greater(t, el, 89.9)
	assert.LessOrEqual(t, el, 90.0)
}

func TestAzimuthDifference(t *testing.T) {
	assert.Equal(t, 0.0, AzimuthDifference(123.4, 123.4))

	cases := []struct{ a, b float64 }{
		{10, 350}, {0, 180}, {359, 1}, {45, 45}, {0, 0},
	}
	for _, c := range cases {
		d := AzimuthDifference(c.a, c.b)
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 180.0)
		assert.InDelta(t, d, AzimuthDifference(c.b, c.a), 1e-9, "symmetric")
	}

	assert.InDelta(t, 20.0, AzimuthDifference(10, 350), 1e-9)
}

func TestAzimuthToApexWraps(t *testing.T) {
	observer := Point{Latitude: 10, Longitude: 179}
	apex := Apex{Point: Point{Latitude: 10, Longitude: -179}, HeightMeters: 100}
	az := AzimuthToApex(observer, apex)
	assert.GreaterOrEqual(t, az, 0.0)
	assert.Less(t, az, 360.0)
}

func TestInvalidGeometryErrorMessage(t *testing.T) {
	err := &InvalidGeometryError{Operation: "ElevationToApex", Reason: "nan"}
	assert.Contains(t, err.Error(), "ElevationToApex")
	assert.Contains(t, err.Error(), "nan")
}

func TestDegRadRoundTrip(t *testing.T) {
	for _, d := range []float64{0, 45, 90, 180, 270, 359.9} {
		assert.InDelta(t, d, radToDeg(degToRad(d)), 1e-9)
	}
	assert.InDelta(t, math.Pi, degToRad(180), 1e-9)
}
