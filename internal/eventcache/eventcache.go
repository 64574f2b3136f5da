// Package eventcache implements the materialization layer (spec
// component C5): drives the solver across a site's (year|month|day)
// scope and persists the result idempotently, replacing whatever was
// cached for that scope in a single transaction.
package eventcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/solver"
)

var logger = log.Logger()

// allEventTypes is swept for every calendar day; group/selection inside
// the solver drops whichever don't produce a candidate.
var allEventTypes = []domain.EventType{
	domain.DiamondSunrise, domain.DiamondSunset, domain.PearlRising, domain.PearlSetting,
}

// siteParallelism bounds how many sites GenerateAllLocationsForYear
// processes concurrently (spec §4.5 "sub-batch of 5").
const siteParallelism = 5

// Generator drives the solver and persists results for a site's event
// cache, per spec §4.5.
type Generator struct {
	sites    repository.Sites
	events   repository.Events
	solver   *solver.Solver
	observer observability.ObserverInterface
}

// New constructs a Generator wired to the given repositories and solver.
func New(sites repository.Sites, events repository.Events, sv *solver.Solver) *Generator {
	return &Generator{sites: sites, events: events, solver: sv, observer: observability.Observer()}
}

// GenerateLocationCache (re)computes every event for one site across an
// entire calendar year, replacing the whole (siteId, year) scope.
func (g *Generator) GenerateLocationCache(ctx context.Context, siteID int64, year int) error {
	_, span := g.observer.CreateSpan(ctx, "eventcache.GenerateLocationCache")
	defer span.End()

	site, err := g.requireSite(ctx, siteID)
	if err != nil {
		return err
	}

	events, err := g.sweepYear(ctx, *site, year)
	if err != nil {
		return err
	}

	scope := repository.EventScope{SiteID: siteID, Year: year}
	if err := g.events.ReplaceScope(ctx, scope, events); err != nil {
		return fmt.Errorf("replace scope: %w", err)
	}

	logger.InfoContext(ctx, "location cache generated", "site_id", siteID, "year", year, "event_count", len(events))
	return nil
}

// GenerateLocationMonthCache replaces just one (siteId, year, month) scope.
func (g *Generator) GenerateLocationMonthCache(ctx context.Context, siteID int64, year, month int) error {
	_, span := g.observer.CreateSpan(ctx, "eventcache.GenerateLocationMonthCache")
	defer span.End()

	site, err := g.requireSite(ctx, siteID)
	if err != nil {
		return err
	}

	loc := time.UTC
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, 0)

	var events []domain.Event
	for day := first; day.Before(last); day = day.AddDate(0, 0, 1) {
		dayEvents, err := g.solver.Solve(ctx, *site, day, loc, allEventTypes, solver.DefaultOptions())
		if err != nil {
			return fmt.Errorf("solve %s: %w", day.Format("2006-01-02"), err)
		}
		events = append(events, dayEvents...)
	}

	scope := repository.EventScope{SiteID: siteID, Year: year, Month: month}
	if err := g.events.ReplaceScope(ctx, scope, events); err != nil {
		return fmt.Errorf("replace scope: %w", err)
	}

	logger.InfoContext(ctx, "location month cache generated", "site_id", siteID, "year", year, "month", month, "event_count", len(events))
	return nil
}

// GenerateLocationDayCache replaces just one (siteId, day) scope, used by
// on-demand HTTP requests that need a fast single-day answer.
func (g *Generator) GenerateLocationDayCache(ctx context.Context, siteID int64, day time.Time) error {
	_, span := g.observer.CreateSpan(ctx, "eventcache.GenerateLocationDayCache")
	defer span.End()

	site, err := g.requireSite(ctx, siteID)
	if err != nil {
		return err
	}

	events, err := g.solver.Solve(ctx, *site, day, time.UTC, allEventTypes, solver.DefaultOptions())
	if err != nil {
		return fmt.Errorf("solve %s: %w", day.Format("2006-01-02"), err)
	}

	scope := repository.EventScope{SiteID: siteID, Year: day.Year(), Day: day}
	if err := g.events.ReplaceScope(ctx, scope, events); err != nil {
		return fmt.Errorf("replace scope: %w", err)
	}

	logger.InfoContext(ctx, "location day cache generated", "site_id", siteID, "day", day.Format("2006-01-02"), "event_count", len(events))
	return nil
}

// GenerateAllLocationsForYear fans out GenerateLocationCache across every
// active site, siteParallelism at a time (spec §4.5 batch processing).
func (g *Generator) GenerateAllLocationsForYear(ctx context.Context, year int) error {
	sites, err := g.sites.List(ctx)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}

	sem := make(chan struct{}, siteParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, site := range sites {
		if site.Status != domain.SiteActive {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(siteID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := g.GenerateLocationCache(ctx, siteID, year); err != nil {
				logger.ErrorContext(ctx, "site year generation failed", "site_id", siteID, "year", year, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(site.ID)
	}
	wg.Wait()

	return firstErr
}

func (g *Generator) requireSite(ctx context.Context, siteID int64) (*domain.Site, error) {
	site, err := g.sites.Get(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	if site == nil {
		return nil, repository.ErrNotFound
	}
	return site, nil
}

func (g *Generator) sweepYear(ctx context.Context, site domain.Site, year int) ([]domain.Event, error) {
	loc := time.UTC
	first := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(1, 0, 0)

	var events []domain.Event
	for day := first; day.Before(last); day = day.AddDate(0, 0, 1) {
		dayEvents, err := g.solver.Solve(ctx, site, day, loc, allEventTypes, solver.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("solve %s: %w", day.Format("2006-01-02"), err)
		}
		events = append(events, dayEvents...)
	}
	return events, nil
}
