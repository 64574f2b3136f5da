package memrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/settings"
)

func TestCreateGetUpdateDeleteSite(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.Create(ctx, domain.Site{Name: "A"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Name)

	created.Name = "B"
	updated, err := store.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "B", updated.Name)

	require.NoError(t, store.Delete(ctx, created.ID))
	got, err = store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateMissingSiteFails(t *testing.T) {
	store := New()
	_, err := store.Update(context.Background(), domain.Site{ID: 999})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteCascadesEvents(t *testing.T) {
	store := New()
	ctx := context.Background()

	site, err := store.Create(ctx, domain.Site{Name: "A"})
	require.NoError(t, err)

	events := []domain.Event{{SiteID: site.ID, EventDate: time.Now(), CalculationYear: 2026}}
	require.NoError(t, store.ReplaceScope(ctx, repository.EventScope{SiteID: site.ID, Year: 2026}, events))

	require.NoError(t, store.Delete(ctx, site.ID))

	remaining, err := store.BySiteYear(ctx, site.ID, 2026)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReplaceScopeIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	site, _ := store.Create(ctx, domain.Site{Name: "A"})

	scope := repository.EventScope{SiteID: site.ID, Year: 2026}
	first := []domain.Event{{SiteID: site.ID, EventDate: time.Now(), CalculationYear: 2026, EventType: domain.DiamondSunrise}}
	require.NoError(t, store.ReplaceScope(ctx, scope, first))

	second := []domain.Event{
		{SiteID: site.ID, EventDate: time.Now(), CalculationYear: 2026, EventType: domain.DiamondSunset},
		{SiteID: site.ID, EventDate: time.Now(), CalculationYear: 2026, EventType: domain.PearlRising},
	}
	require.NoError(t, store.ReplaceScope(ctx, scope, second))

	out, err := store.BySiteYear(ctx, site.ID, 2026)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestYearStatsCountsDistinctSites(t *testing.T) {
	store := New()
	ctx := context.Background()
	s1, _ := store.Create(ctx, domain.Site{Name: "A"})
	s2, _ := store.Create(ctx, domain.Site{Name: "B"})

	events := []domain.Event{
		{SiteID: s1.ID, EventType: domain.DiamondSunrise, CalculationYear: 2026, EventDate: time.Now()},
		{SiteID: s2.ID, EventType: domain.PearlSetting, CalculationYear: 2026, EventDate: time.Now()},
	}
	require.NoError(t, store.ReplaceScope(ctx, repository.EventScope{SiteID: s1.ID, Year: 2026}, events[:1]))
	require.NoError(t, store.ReplaceScope(ctx, repository.EventScope{SiteID: s2.ID, Year: 2026}, events[1:]))

	stats, err := store.YearStats(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 2, stats.ActiveLocations)
}

func TestSettingsUpsertAndList(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.UpsertSetting(ctx, settings.Setting{Key: "k", ValueType: settings.TypeNumber, NumberValue: 1.0}))
	st, err := store.GetSetting(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1.0, st.NumberValue)
}
