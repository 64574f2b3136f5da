// Package calendar implements the public read API (spec component C8):
// monthly grid, single-day, upcoming, per-site-yearly and yearly-stats
// views over the materialized event cache, with an on-demand solver
// fallback when a day has never been cached.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/eventcache"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
	"github.com/skytower/alignments/internal/repository"
)

var logger = log.Logger()

// DominantType labels a calendar cell by the kind of events it holds.
type DominantType string

const (
	DominantDiamond DominantType = "diamond"
	DominantPearl   DominantType = "pearl"
	DominantMixed   DominantType = "mixed"
)

// DayCell is one of the 42 grid entries MonthlyCalendar returns.
type DayCell struct {
	Date         time.Time
	Events       []domain.Event
	DominantType DominantType
}

// MonthlyView is the MonthlyCalendar response.
type MonthlyView struct {
	Year  int
	Month int
	Cells []DayCell
}

// Service is the calendar read façade, backed by the event repository
// and (for cache misses) the event-cache generator.
type Service struct {
	sites     repository.Sites
	events    repository.Events
	generator *eventcache.Generator
	observer  observability.ObserverInterface
}

// New constructs a calendar Service.
func New(sites repository.Sites, events repository.Events, generator *eventcache.Generator) *Service {
	return &Service{sites: sites, events: events, generator: generator, observer: observability.Observer()}
}

// MonthlyCalendar computes the 6-week display grid for a year/month:
// 42 days starting from the Sunday on/before the 1st (spec §4.8).
func (s *Service) MonthlyCalendar(ctx context.Context, year, month int) (MonthlyView, error) {
	_, span := s.observer.CreateSpan(ctx, "calendar.MonthlyCalendar")
	defer span.End()

	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)

	gridStart := monthStart.AddDate(0, 0, -int(monthStart.Weekday()))
	// Fixed 6-week/42-cell grid (spec §4.8, tested by spec §8 scenario 3):
	// the Sunday on/before month-start plus exactly 41 more days, not just
	// "the Saturday on/after month-end" (which is only 5 weeks for months
	// whose last day falls before Saturday).
	gridEnd := gridStart.AddDate(0, 0, 41)

	events, err := s.events.ByMonth(ctx, year, month)
	if err != nil {
		return MonthlyView{}, err
	}
	// MonthlyCalendar's grid can bleed into neighboring months; pull those
	// too so the leading/trailing cells aren't empty.
	if gridStart.Month() != monthStart.Month() {
		prior, err := s.events.ByMonth(ctx, gridStart.Year(), int(gridStart.Month()))
		if err != nil {
			return MonthlyView{}, err
		}
		events = append(events, prior...)
	}
	if gridEnd.Month() != monthEnd.Month() {
		trailing, err := s.events.ByMonth(ctx, gridEnd.Year(), int(gridEnd.Month()))
		if err != nil {
			return MonthlyView{}, err
		}
		events = append(events, trailing...)
	}

	byDate := make(map[string][]domain.Event)
	for _, ev := range events {
		key := ev.EventDate.Format("2006-01-02")
		byDate[key] = append(byDate[key], ev)
	}

	var cells []DayCell
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		dayEvents := byDate[d.Format("2006-01-02")]
		sort.Slice(dayEvents, func(i, j int) bool { return dayEvents[i].EventTime.Before(dayEvents[j].EventTime) })
		cells = append(cells, DayCell{Date: d, Events: dayEvents, DominantType: dominantType(dayEvents)})
	}

	return MonthlyView{Year: year, Month: month, Cells: cells}, nil
}

func dominantType(events []domain.Event) DominantType {
	var diamond, pearl bool
	for _, ev := range events {
		if ev.EventType.IsPearl() {
			pearl = true
		} else {
			diamond = true
		}
	}
	switch {
	case diamond && pearl:
		return DominantMixed
	case pearl:
		return DominantPearl
	default:
		return DominantDiamond
	}
}

// DayEvents loads cached events for a single day; if the cache has
// nothing for that day, it generates on demand across every registered
// active site (a site-scoped reduction of spec §4.8's dynamic-site-sampling
// design, documented in DESIGN.md) and returns the freshly solved set.
func (s *Service) DayEvents(ctx context.Context, day time.Time) ([]domain.Event, error) {
	_, span := s.observer.CreateSpan(ctx, "calendar.DayEvents")
	defer span.End()

	events, err := s.events.ByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}

	sites, err := s.sites.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, site := range sites {
		if site.Status != domain.SiteActive {
			continue
		}
		if err := s.generator.GenerateLocationDayCache(ctx, site.ID, day); err != nil {
			logger.WarnContext(ctx, "on-demand day generation failed", "site_id", site.ID, "day", day, "error", err)
		}
	}

	return s.events.ByDay(ctx, day)
}

// UpcomingEvents returns up to limit (capped at 200, spec §6) future
// events ordered ascending by time.
func (s *Service) UpcomingEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.events.Upcoming(ctx, time.Now(), limit)
}

// SiteYearlyEvents is a straight cache load (spec §4.8).
func (s *Service) SiteYearlyEvents(ctx context.Context, siteID int64, year int) ([]domain.Event, error) {
	return s.events.BySiteYear(ctx, siteID, year)
}

// Stats returns yearly totals for the admin/stats endpoint.
func (s *Service) Stats(ctx context.Context, year int) (repository.YearStats, error) {
	return s.events.YearStats(ctx, year)
}
