// Package repository declares the persistence ports every other
// component depends on (spec §3 "repositories own persistence-side
// lifetimes"). Concrete adapters live in memrepo (in-process, used by
// tests and ephemeral deployments with no SQLite path) and sqlrepo
// (modernc.org/sqlite backed, used in production).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/skytower/alignments/internal/domain"
)

// ErrNotFound is returned by Get/Update/Delete when no row matches the id.
var ErrNotFound = errors.New("repository: not found")

// Sites is the persistence port C9 (and the solver's callers) use.
type Sites interface {
	Create(ctx context.Context, site domain.Site) (domain.Site, error)
	Update(ctx context.Context, site domain.Site) (domain.Site, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Site, error)
	List(ctx context.Context) ([]domain.Site, error)
}

// EventScope identifies the delete-then-insert unit spec §5 requires to
// be transactional: either a whole year, a (year, month), or a single day.
type EventScope struct {
	SiteID int64
	Year   int
	Month  int // 0 means "whole year"
	Day    time.Time // zero means "whole year or month"
}

// Events is the persistence port C5 uses for materialized alignment events.
type Events interface {
	// ReplaceScope atomically deletes any existing events in scope and
	// inserts events, within a single transaction (spec §5 ordering
	// guarantee).
	ReplaceScope(ctx context.Context, scope EventScope, events []domain.Event) error

	ByMonth(ctx context.Context, year, month int) ([]domain.Event, error)
	ByDay(ctx context.Context, day time.Time) ([]domain.Event, error)
	Upcoming(ctx context.Context, from time.Time, limit int) ([]domain.Event, error)
	BySiteYear(ctx context.Context, siteID int64, year int) ([]domain.Event, error)
	YearStats(ctx context.Context, year int) (YearStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	HasYear(ctx context.Context, siteID int64, year int) (bool, error)
}

// YearStats backs GET /api/calendar/stats/{year}.
type YearStats struct {
	Year            int
	TotalEvents     int
	DiamondEvents   int
	PearlEvents     int
	ActiveLocations int
}
