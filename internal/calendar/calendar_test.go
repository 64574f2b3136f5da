package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/eventcache"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/repository/memrepo"
)

func TestMonthlyCalendarGroupsAndLabelsDominantType(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()

	site, err := repo.Create(ctx, domain.Site{Name: "S"})
	require.NoError(t, err)

	day := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	events := []domain.Event{
		{SiteID: site.ID, EventDate: day, EventTime: day, EventType: domain.DiamondSunrise, CalculationYear: 2026},
	}
	require.NoError(t, repo.ReplaceScope(ctx, repository.EventScope{SiteID: site.ID, Year: 2026}, events))

	svc := New(repo, repo, eventcache.New(repo, repo, nil))
	view, err := svc.MonthlyCalendar(ctx, 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 2026, view.Year)
	require.Len(t, view.Cells, 42)
	assert.Equal(t, time.Sunday, view.Cells[0].Date.Weekday())
	assert.Equal(t, time.Saturday, view.Cells[len(view.Cells)-1].Date.Weekday())

	var found bool
	for _, cell := range view.Cells {
		if cell.Date.Day() == 15 && cell.Date.Month() == time.March {
			found = true
			require.Len(t, cell.Events, 1)
			assert.Equal(t, DominantDiamond, cell.DominantType)
		}
	}
	assert.True(t, found)
}

func TestMonthlyCalendarIsAlways42Cells(t *testing.T) {
	repo := memrepo.New()
	svc := New(repo, repo, eventcache.New(repo, repo, nil))
	ctx := context.Background()

	// July 2025: 1st is a Tuesday, 31st is a Thursday. A "Saturday on/after
	// month-end" grid would stop short at 5 weeks (35 cells); spec §8
	// scenario 3 requires the fixed 42-cell grid regardless.
	view, err := svc.MonthlyCalendar(ctx, 2025, 7)
	require.NoError(t, err)
	require.Len(t, view.Cells, 42)
	assert.True(t, !view.Cells[0].Date.After(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, !view.Cells[len(view.Cells)-1].Date.Before(time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)))
}

func TestUpcomingEventsCapsLimit(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	site, err := repo.Create(ctx, domain.Site{Name: "S"})
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	var seeded []domain.Event
	for i := 0; i < 201; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		seeded = append(seeded, domain.Event{SiteID: site.ID, EventDate: at, EventTime: at, EventType: domain.DiamondSunrise, CalculationYear: start.Year()})
	}
	require.NoError(t, repo.ReplaceScope(ctx, repository.EventScope{SiteID: site.ID, Year: start.Year()}, seeded))

	svc := New(repo, repo, eventcache.New(repo, repo, nil))
	events, err := svc.UpcomingEvents(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, events, 200)
}

func TestStatsCountsDiamondAndPearl(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	site, _ := repo.Create(ctx, domain.Site{Name: "S"})

	events := []domain.Event{
		{SiteID: site.ID, EventType: domain.DiamondSunrise, CalculationYear: 2026, EventDate: time.Now()},
		{SiteID: site.ID, EventType: domain.PearlRising, CalculationYear: 2026, EventDate: time.Now()},
	}
	require.NoError(t, repo.ReplaceScope(ctx, repository.EventScope{SiteID: site.ID, Year: 2026}, events))

	svc := New(repo, repo, eventcache.New(repo, repo, nil))
	stats, err := svc.Stats(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.DiamondEvents)
	assert.Equal(t, 1, stats.PearlEvents)
	assert.Equal(t, 1, stats.ActiveLocations)
}
