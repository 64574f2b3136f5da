package eventcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/ephemeris"
	"github.com/skytower/alignments/internal/repository/memrepo"
	"github.com/skytower/alignments/internal/solver"
)

// alignedProvider returns a sun/moon position that aligns with whatever
// site apex azimuth is passed in on day 2026-03-01 at 00:30 UTC only, so
// a sweep across a year produces exactly one diamond-sunrise event.
func alignedProvider(alignAzimuth float64, alignInstant time.Time) *ephemeris.FixedProvider {
	return &ephemeris.FixedProvider{
		SunFunc: func(instant time.Time, lat, lon float64) (ephemeris.Position, error) {
			if instant.Equal(alignInstant) {
				return ephemeris.Position{Azimuth: alignAzimuth, Altitude: 10, DistanceAU: 1}, nil
			}
			return ephemeris.Position{Azimuth: alignAzimuth + 90, Altitude: -10, DistanceAU: 1}, nil
		},
		MoonFunc: func(instant time.Time, lat, lon float64) (ephemeris.MoonPosition, error) {
			return ephemeris.MoonPosition{Position: ephemeris.Position{Azimuth: alignAzimuth + 90, Altitude: -10}, Illumination: 0}, nil
		},
	}
}

func newTestGenerator(provider ephemeris.Provider) (*Generator, *memrepo.Store) {
	store := memrepo.New()
	sv := solver.New(provider)
	return New(store, store, sv), store
}

func TestGenerateLocationDayCacheIsIdempotent(t *testing.T) {
	gen, store := newTestGenerator(alignedProvider(90.0, time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	ctx := context.Background()

	site, err := store.Create(ctx, domain.Site{AzimuthToApexDeg: 90.0, ElevationToApexDeg: 3.0, Status: domain.SiteActive})
	require.NoError(t, err)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, gen.GenerateLocationDayCache(ctx, site.ID, day))
	first, err := store.ByDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, gen.GenerateLocationDayCache(ctx, site.ID, day))
	second, err := store.ByDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, second, 1, "regenerating the same day must replace, not duplicate")
	assert.Equal(t, first[0].EventTime, second[0].EventTime)
}

func TestGenerateLocationMonthCacheScopesDeletes(t *testing.T) {
	gen, store := newTestGenerator(alignedProvider(90.0, time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	ctx := context.Background()

	site, err := store.Create(ctx, domain.Site{AzimuthToApexDeg: 90.0, ElevationToApexDeg: 3.0, Status: domain.SiteActive})
	require.NoError(t, err)

	require.NoError(t, gen.GenerateLocationMonthCache(ctx, site.ID, 2026, 3))
	marchEvents, err := store.ByMonth(ctx, 2026, 3)
	require.NoError(t, err)
	require.Len(t, marchEvents, 1)

	// Regenerating April must not disturb March's already-cached events.
	require.NoError(t, gen.GenerateLocationMonthCache(ctx, site.ID, 2026, 4))
	marchAfter, err := store.ByMonth(ctx, 2026, 3)
	require.NoError(t, err)
	assert.Len(t, marchAfter, 1)
}

func TestGenerateAllLocationsForYearSkipsRestrictedSites(t *testing.T) {
	gen, store := newTestGenerator(alignedProvider(90.0, time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	ctx := context.Background()

	active, err := store.Create(ctx, domain.Site{AzimuthToApexDeg: 90.0, ElevationToApexDeg: 3.0, Status: domain.SiteActive})
	require.NoError(t, err)
	restricted, err := store.Create(ctx, domain.Site{AzimuthToApexDeg: 90.0, ElevationToApexDeg: 3.0, Status: domain.SiteRestricted})
	require.NoError(t, err)

	require.NoError(t, gen.GenerateAllLocationsForYear(ctx, 2026))

	activeEvents, err := store.BySiteYear(ctx, active.ID, 2026)
	require.NoError(t, err)
	assert.Len(t, activeEvents, 1)

	restrictedEvents, err := store.BySiteYear(ctx, restricted.ID, 2026)
	require.NoError(t, err)
	assert.Empty(t, restrictedEvents, "restricted sites are not swept by the yearly batch entry point")
}

func TestGenerateLocationCacheUnknownSiteFails(t *testing.T) {
	gen, _ := newTestGenerator(alignedProvider(90.0, time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)))
	err := gen.GenerateLocationCache(context.Background(), 999, 2026)
	require.Error(t, err)
}
