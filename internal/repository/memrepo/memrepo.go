// Package memrepo is an in-process implementation of the repository
// ports, used by tests and by deployments whose SQLite path is empty or
// ":memory:" (no durable store). Grounded on the
// teacher's cache/redis.go for the lock-and-copy access pattern, adapted
// from a single keyed cache to the multi-entity store the ports need.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/settings"
)

// Store is a mutex-guarded in-memory implementation of
// repository.Sites, repository.Events and settings.Repository.
type Store struct {
	mu sync.RWMutex

	sites    map[int64]domain.Site
	nextSite int64

	events    map[int64]domain.Event
	nextEvent int64

	settings map[string]settings.Setting
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		sites:    make(map[int64]domain.Site),
		events:   make(map[int64]domain.Event),
		settings: make(map[string]settings.Setting),
	}
}

// --- Sites ---

func (s *Store) Create(ctx context.Context, site domain.Site) (domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSite++
	site.ID = s.nextSite
	now := time.Now()
	site.CreatedAt, site.UpdatedAt = now, now
	s.sites[site.ID] = site
	return site, nil
}

func (s *Store) Update(ctx context.Context, site domain.Site) (domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sites[site.ID]
	if !ok {
		return domain.Site{}, repository.ErrNotFound
	}
	site.CreatedAt = existing.CreatedAt
	site.UpdatedAt = time.Now()
	s.sites[site.ID] = site
	return site, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.sites, id)
	for eid, ev := range s.events {
		if ev.SiteID == id {
			delete(s.events, eid)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[id]
	if !ok {
		return nil, nil
	}
	return &site, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Events ---

func (s *Store) ReplaceScope(ctx context.Context, scope repository.EventScope, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ev := range s.events {
		if matchesScope(ev, scope) {
			delete(s.events, id)
		}
	}
	for _, ev := range events {
		s.nextEvent++
		ev.ID = s.nextEvent
		s.events[ev.ID] = ev
	}
	return nil
}

func matchesScope(ev domain.Event, scope repository.EventScope) bool {
	if ev.SiteID != scope.SiteID || ev.CalculationYear != scope.Year {
		return false
	}
	if !scope.Day.IsZero() {
		y1, m1, d1 := ev.EventDate.Date()
		y2, m2, d2 := scope.Day.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
	if scope.Month != 0 {
		return int(ev.EventDate.Month()) == scope.Month
	}
	return true
}

func (s *Store) ByMonth(ctx context.Context, year, month int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.EventDate.Year() == year && int(ev.EventDate.Month()) == month {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) ByDay(ctx context.Context, day time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, d := day.Date()
	var out []domain.Event
	for _, ev := range s.events {
		ey, em, ed := ev.EventDate.Date()
		if ey == y && em == m && ed == d {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) Upcoming(ctx context.Context, from time.Time, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, ev := range s.events {
		if !ev.EventTime.Before(from) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) BySiteYear(ctx context.Context, siteID int64, year int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.SiteID == siteID && ev.CalculationYear == year {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) YearStats(ctx context.Context, year int) (repository.YearStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := repository.YearStats{Year: year}
	activeSites := make(map[int64]bool)
	for _, ev := range s.events {
		if ev.CalculationYear != year {
			continue
		}
		stats.TotalEvents++
		if ev.EventType.IsPearl() {
			stats.PearlEvents++
		} else {
			stats.DiamondEvents++
		}
		activeSites[ev.SiteID] = true
	}
	stats.ActiveLocations = len(activeSites)
	return stats, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, ev := range s.events {
		if ev.EventDate.Before(cutoff) {
			delete(s.events, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) HasYear(ctx context.Context, siteID int64, year int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.SiteID == siteID && ev.CalculationYear == year {
			return true, nil
		}
	}
	return false, nil
}

func sortEvents(events []domain.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })
}

// --- Settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (*settings.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]settings.Setting, 0, len(s.settings))
	for _, st := range s.settings {
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) UpsertSetting(ctx context.Context, st settings.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[st.Key] = st
	return nil
}
