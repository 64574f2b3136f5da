package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
)

type fakeEnqueuer struct {
	jobs []domain.Job
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, kind domain.JobKind, dedupKey string, payload map[string]any, priority domain.JobPriority, delay time.Duration) (domain.Job, error) {
	job := domain.Job{Kind: kind, DedupKey: dedupKey, Payload: payload, Priority: priority}
	f.jobs = append(f.jobs, job)
	return job, nil
}

type fakeSiteLister struct {
	sites []domain.Site
}

func (f *fakeSiteLister) List(ctx context.Context) ([]domain.Site, error) {
	return f.sites, nil
}

type fakeCleanup struct {
	calls int
}

func (f *fakeCleanup) CleanFailedJobs(ctx context.Context) (int, error) {
	f.calls++
	return 3, nil
}

type fakeRetention struct {
	cutoffs []time.Time
}

func (f *fakeRetention) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 7, nil
}

func TestTriggerYearlyGenerationEnqueuesOneJobPerSite(t *testing.T) {
	enq := &fakeEnqueuer{}
	sites := &fakeSiteLister{sites: []domain.Site{{ID: 1}, {ID: 2}, {ID: 3}}}
	s, err := New(enq, sites, &fakeCleanup{}, &fakeRetention{}, 5)
	require.NoError(t, err)

	s.TriggerYearlyGeneration()
	require.Len(t, enq.jobs, 3)
	for _, job := range enq.jobs {
		assert.Equal(t, domain.JobSiteCalculation, job.Kind)
		assert.Equal(t, domain.PriorityLow, job.Priority)
		assert.Empty(t, job.DedupKey, "site-calculation jobs are not deduplicated")
		assert.Equal(t, job.Payload["startYear"], job.Payload["endYear"])
	}
}

func TestTriggerDailyCleanupInvokesRunner(t *testing.T) {
	cleanup := &fakeCleanup{}
	s, err := New(&fakeEnqueuer{}, &fakeSiteLister{}, cleanup, &fakeRetention{}, 5)
	require.NoError(t, err)

	s.TriggerDailyCleanup()
	assert.Equal(t, 1, cleanup.calls)
}

func TestStartStopDoesNotPanic(t *testing.T) {
	s, err := New(&fakeEnqueuer{}, &fakeSiteLister{}, &fakeCleanup{}, &fakeRetention{}, 5)
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
