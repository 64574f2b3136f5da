// Package scheduler drives the recurring cron triggers (spec component
// C7): yearly event generation, daily failed-job cleanup, and monthly
// data retention. Grounded on the rest of the example pack's use of
// robfig/cron/v3 for recurring background jobs; the teacher repo has no
// cron dependency of its own, so this package's third-party stack
// choice is documented in DESIGN.md rather than lifted from the teacher.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
)

var logger = log.Logger()

// Enqueuer is the subset of the queue core the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, dedupKey string, payload map[string]any, priority domain.JobPriority, delay time.Duration) (domain.Job, error)
}

// SiteLister is the subset of the sites repository the yearly trigger
// needs to fan out one site-calculation job per site (spec §4.7:
// "enqueue site-calculation(nextYear, nextYear, low) for every site").
type SiteLister interface {
	List(ctx context.Context) ([]domain.Site, error)
}

// CleanupRunner is invoked directly by the daily trigger rather than
// enqueued, since cleanup is cheap and has no useful retry semantics
// beyond "run again tomorrow" (spec §4.7).
type CleanupRunner interface {
	CleanFailedJobs(ctx context.Context) (int, error)
}

// DataRetention trims event history older than the retention window.
type DataRetention interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler wraps a robfig/cron.Cron with the three triggers spec §4.7
// names. It is constructed but not started unless
// ENABLE_BACKGROUND_SCHEDULER is set (spec §4.10 step 9).
type Scheduler struct {
	cron            *cron.Cron
	queue           Enqueuer
	sites           SiteLister
	cleanup         CleanupRunner
	retention       DataRetention
	retentionYears  int
	observer        observability.ObserverInterface
}

// New constructs a Scheduler with the standard triggers registered but
// not yet running.
func New(queue Enqueuer, sites SiteLister, cleanup CleanupRunner, retention DataRetention, retentionYears int) (*Scheduler, error) {
	s := &Scheduler{
		cron:           cron.New(),
		queue:          queue,
		sites:          sites,
		cleanup:        cleanup,
		retention:      retention,
		retentionYears: retentionYears,
		observer:       observability.Observer(),
	}

	// Yearly generation: December 1st at 02:00, so next year's calendar is
	// ready well before it starts.
	if _, err := s.cron.AddFunc("0 2 1 12 *", s.runYearlyGeneration); err != nil {
		return nil, err
	}
	// Daily maintenance: 03:00, clears permanently-failed jobs.
	if _, err := s.cron.AddFunc("0 3 * * *", s.runDailyCleanup); err != nil {
		return nil, err
	}
	// Monthly maintenance: 1st at 05:00, trims event history older than
	// the retention window.
	if _, err := s.cron.AddFunc("0 5 1 * *", s.runMonthlyRetention); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins running the registered triggers.
func (s *Scheduler) Start() {
	logger.Info("scheduler starting", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the cron loop, waiting for any in-flight trigger to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// runYearlyGeneration enqueues one site-calculation(nextYear, nextYear,
// low) job per site, exactly as spec §4.7 describes the Dec 1 trigger
// (not a single batch job: each site is independently retried on
// failure and visible in queue stats).
func (s *Scheduler) runYearlyGeneration() {
	ctx, span := s.observer.CreateSpan(context.Background(), "scheduler.runYearlyGeneration")
	defer span.End()

	nextYear := time.Now().Year() + 1
	sites, err := s.sites.List(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list sites for yearly generation", "error", err)
		return
	}
	for _, site := range sites {
		payload := map[string]any{"siteId": site.ID, "startYear": nextYear, "endYear": nextYear}
		if _, err := s.queue.Enqueue(ctx, domain.JobSiteCalculation, "", payload, domain.PriorityLow, 0); err != nil {
			logger.ErrorContext(ctx, "failed to enqueue yearly generation", "error", err, "site_id", site.ID, "year", nextYear)
		}
	}
	logger.InfoContext(ctx, "yearly generation enqueued", "site_count", len(sites), "year", nextYear)
}

func (s *Scheduler) runDailyCleanup() {
	ctx, span := s.observer.CreateSpan(context.Background(), "scheduler.runDailyCleanup")
	defer span.End()

	cleaned, err := s.cleanup.CleanFailedJobs(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "daily cleanup failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "daily cleanup completed", "cleaned", cleaned)
}

func (s *Scheduler) runMonthlyRetention() {
	ctx, span := s.observer.CreateSpan(context.Background(), "scheduler.runMonthlyRetention")
	defer span.End()

	cutoff := time.Now().AddDate(-s.retentionYears, 0, 0)
	deleted, err := s.retention.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.ErrorContext(ctx, "monthly retention failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "monthly retention completed", "deleted", deleted, "cutoff", cutoff)
}

// TriggerYearlyGeneration exposes the yearly trigger for the admin
// manual-trigger hook (spec §4.7 "manual-trigger admin hooks").
func (s *Scheduler) TriggerYearlyGeneration() {
	s.runYearlyGeneration()
}

// TriggerDailyCleanup exposes the daily trigger for manual invocation.
func (s *Scheduler) TriggerDailyCleanup() {
	s.runDailyCleanup()
}
