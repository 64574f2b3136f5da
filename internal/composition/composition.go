// Package composition is the dependency-graph root (spec component
// C10): explicit two-phase construction (repositories before solver
// before event cache before queue before the handler that closes the
// loop back into the queue), startup broker ping, and ordered shutdown.
// Grounded on the teacher's cmd/server/main.go wiring sequence and
// server/server.go lifecycle shape.
package composition

import (
	"context"
	"fmt"
	"time"

	"github.com/skytower/alignments/internal/calendar"
	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/ephemeris"
	"github.com/skytower/alignments/internal/eventcache"
	"github.com/skytower/alignments/internal/geometry"
	"github.com/skytower/alignments/internal/httpapi"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/queue"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/repository/memrepo"
	"github.com/skytower/alignments/internal/repository/sqlrepo"
	"github.com/skytower/alignments/internal/scheduler"
	"github.com/skytower/alignments/internal/settings"
	"github.com/skytower/alignments/internal/sites"
	"github.com/skytower/alignments/internal/solver"
)

var logger = log.Logger()

// Config carries every env-sourced toggle spec §6 names.
type Config struct {
	RedisHost                  string
	RedisPort                  string
	DisableRedis               bool
	DisableWorker              bool
	EnableBackgroundScheduler  bool
	WorkerConcurrency          int
	SkipDirectCalculation      bool
	Port                       string
	SQLitePath                 string
	AdminToken                 string
	ApexLatitude               float64
	ApexLongitude              float64
	ApexHeightMeters           float64
	RetentionYears             int
}

// DefaultConfig fills in the teacher-style hard-coded fallbacks used
// when an env var is absent.
func DefaultConfig() Config {
	return Config{
		RedisHost:                 "localhost",
		RedisPort:                 "6379",
		WorkerConcurrency:         2,
		Port:                      "8080",
		SQLitePath:                "alignments.db",
		ApexHeightMeters:          634,
		RetentionYears:            5,
	}
}

// App is the fully wired system: every component plus the lifecycle
// hooks main() needs.
type App struct {
	cfg       Config
	repo      sitesEventsSettings
	sqliteDB  *sqlrepo.DB
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	http      *httpapi.Server
}

// sitesEventsSettings is satisfied by both memrepo.Store and sqlrepo.DB.
type sitesEventsSettings interface {
	repository.Sites
	repository.Events
	settings.Repository
}

// Build performs the ordered construction spec §4.10 describes:
// 1. persistence, 2. settings, 3. ephemeris, 4. solver, 5. event cache,
// 6. queue (no handler yet), 7. site/calendar services, 8. job handler
// wired back into the queue, 9. scheduler (constructed, started only if
// enabled). Geometry is implicit in sites.Apex.
func Build(ctx context.Context, cfg Config) (*App, error) {
	app := &App{cfg: cfg}

	repo, sqliteDB, err := buildPersistence(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build persistence: %w", err)
	}
	app.repo = repo
	app.sqliteDB = sqliteDB

	settingsStore := settings.New(repo, settings.DefaultTTL)
	if err := settingsStore.SeedDefaults(ctx); err != nil {
		logger.WarnContext(ctx, "settings seed failed, continuing with hard-coded defaults", "error", err)
	}

	provider := ephemeris.NewAlgorithmicProvider()
	sv := solver.New(provider)
	generator := eventcache.New(repo, repo, sv)

	var q *queue.Queue
	if !cfg.DisableRedis {
		addr := cfg.RedisHost + ":" + cfg.RedisPort
		q, err = queue.New(addr, "", 0, cfg.WorkerConcurrency, 3)
		if err != nil {
			logger.WarnContext(ctx, "redis broker unreachable at startup, continuing without a queue", "error", err)
		}
	}

	apex := sites.Apex{Point: geometry.Point{Latitude: cfg.ApexLatitude, Longitude: cfg.ApexLongitude}, HeightMeters: cfg.ApexHeightMeters}

	var enqueuer sites.Enqueuer
	if q != nil {
		enqueuer = q
	}
	siteSvc := sites.New(repo, apex, enqueuer)
	calendarSvc := calendar.New(repo, repo, generator)

	if q != nil {
		q.SetHandler(buildJobHandler(generator))
		if !cfg.DisableWorker {
			q.Start(ctx)
		}
	}

	var sched *scheduler.Scheduler
	if q != nil {
		sched, err = scheduler.New(q, repo, q, repo, cfg.RetentionYears)
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
		if cfg.EnableBackgroundScheduler {
			sched.Start()
		}
	}
	app.scheduler = sched
	app.queue = q

	app.http = httpapi.New(calendarSvc, siteSvc, settingsStore, q, sched, sv, cfg.AdminToken)

	logger.InfoContext(ctx, "composition root built",
		"redis_enabled", !cfg.DisableRedis, "worker_enabled", !cfg.DisableWorker,
		"scheduler_enabled", cfg.EnableBackgroundScheduler)
	return app, nil
}

func buildPersistence(ctx context.Context, cfg Config) (sitesEventsSettings, *sqlrepo.DB, error) {
	if cfg.SQLitePath == ":memory:" || cfg.SQLitePath == "" {
		return memrepo.New(), nil, nil
	}
	db, err := sqlrepo.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

// buildJobHandler closes the loop spec §4.10 step 7 describes: the
// queue is built before the thing that processes its jobs exists, then
// the handler is injected once the event cache is ready.
func buildJobHandler(generator *eventcache.Generator) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		switch job.Kind {
		case domain.JobSiteCalculation:
			siteID := toInt64(job.Payload["siteId"])
			startYear := toInt(job.Payload["startYear"])
			endYear := toInt(job.Payload["endYear"])
			for year := startYear; year <= endYear; year++ {
				if err := generator.GenerateLocationCache(ctx, siteID, year); err != nil {
					return err
				}
			}
			return nil
		case domain.JobMonthlyCalculation:
			year := toInt(job.Payload["year"])
			month := toInt(job.Payload["month"])
			for _, siteID := range toInt64Slice(job.Payload["siteIds"]) {
				if err := generator.GenerateLocationMonthCache(ctx, siteID, year, month); err != nil {
					return err
				}
			}
			return nil
		case domain.JobDataCleanup:
			return nil
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toInt(v any) int {
	return int(toInt64(v))
}

// toInt64Slice decodes a job payload's "siteIds" field, which round-trips
// through JSON as []any (each element a float64) rather than []int64.
func toInt64Slice(v any) []int64 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, toInt64(item))
	}
	return out
}

// HTTPServer exposes the wired HTTP server for main() to run.
func (a *App) HTTPServer() *httpapi.Server {
	return a.http
}

// PingBroker performs the non-fatal broker ping spec §4.10 describes.
func (a *App) PingBroker(ctx context.Context) {
	if a.queue == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := a.queue.Stats(pingCtx); err != nil {
		logger.WarnContext(ctx, "broker ping failed at startup", "error", err)
	}
}

// Shutdown stops the scheduler, then the queue/worker (waiting for
// in-flight jobs), then closes the broker and persistence handles, in
// that order (spec §4.10).
func (a *App) Shutdown(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.queue != nil {
		a.queue.Stop()
		if err := a.queue.Close(); err != nil {
			logger.WarnContext(ctx, "error closing broker", "error", err)
		}
	}
	if a.sqliteDB != nil {
		if err := a.sqliteDB.Close(); err != nil {
			logger.WarnContext(ctx, "error closing persistence", "error", err)
		}
	}
	if err := a.http.Shutdown(); err != nil {
		logger.WarnContext(ctx, "error closing http server", "error", err)
	}
}
