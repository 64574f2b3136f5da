// Package queue implements the durable priority job queue (spec
// component C6): a Redis-backed broker using a single ZSET as the wait
// queue (score = priority-weighted deadline, spec §5 "higher priority
// may preempt the wait queue"), a processing set for stall detection,
// and a worker pool with live concurrency resize. Connection setup is
// grounded on the teacher's cache/redis.go, upgraded from go-redis/v8 to
// go-redis/v9.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
)

var logger = log.Logger()

const (
	waitKey       = "alignments:queue:wait"
	processingKey = "alignments:queue:processing"
	failedKey     = "alignments:queue:failed" // score = UpdatedAt unix, for GetStats' "most recent failures"
	jobHashPrefix = "alignments:queue:job:"
	dedupPrefix   = "alignments:queue:dedup:"

	completedCounterKey = "alignments:queue:count:completed"
	failedCounterKey    = "alignments:queue:count:failed"

	recentFailuresLimit = 10

	stallTimeout = 10 * time.Minute
)

// priorityWeight biases a job's score so higher-priority jobs sort first
// within the wait ZSET without starving older low-priority jobs outright
// (weight is subtracted from the scheduling time in seconds).
var priorityWeight = map[domain.JobPriority]float64{
	domain.PriorityHigh:   3600,
	domain.PriorityNormal: 0,
	domain.PriorityLow:    -3600,
}

// Handler processes one job's payload. Returned error marks the job
// failed (subject to retry); nil marks it completed.
type Handler func(ctx context.Context, job domain.Job) error

// Queue is the Redis-backed broker plus worker pool.
type Queue struct {
	client   *redis.Client
	handler  Handler
	observer observability.ObserverInterface

	concurrency atomic.Int32
	maxAttempts int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New connects to Redis at addr and constructs a Queue. The handler must
// be attached with SetHandler before Start is called (spec §4.10 builds
// the queue before its event-producing dependency exists).
func New(addr, password string, db int, concurrency, maxAttempts int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis broker: %w", err)
	}

	q := &Queue{client: client, maxAttempts: maxAttempts}
	q.concurrency.Store(int32(concurrency))
	q.observer = observability.Observer()

	logger.Info("queue broker connected", "addr", addr, "db", db, "concurrency", concurrency)
	return q, nil
}

// SetHandler attaches the event-producing handler (spec §4.10 step 7:
// constructed after the queue, then injected into it).
func (q *Queue) SetHandler(h Handler) {
	q.handler = h
}

// Enqueue schedules a job. When dedupKey is non-empty, an already-waiting
// or active job sharing that key is not duplicated (spec §3 Job
// invariant: "at most one active job per (kind, dedup key)").
func (q *Queue) Enqueue(ctx context.Context, kind domain.JobKind, dedupKey string, payload map[string]any, priority domain.JobPriority, delay time.Duration) (domain.Job, error) {
	_, span := q.observer.CreateSpan(ctx, "queue.Enqueue")
	defer span.End()

	if dedupKey != "" {
		acquired, err := q.client.SetNX(ctx, dedupPrefix+dedupKey, "", 24*time.Hour).Result()
		if err != nil {
			return domain.Job{}, fmt.Errorf("dedup check: %w", err)
		}
		if !acquired {
			return domain.Job{}, ErrDuplicateJob
		}
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		DedupKey:    dedupKey,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: q.maxAttempts,
		State:       domain.JobWaiting,
		ScheduledAt: time.Now().Add(delay),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := q.persist(ctx, job); err != nil {
		if dedupKey != "" {
			q.client.Del(ctx, dedupPrefix+dedupKey)
		}
		return domain.Job{}, err
	}

	score := float64(job.ScheduledAt.Unix()) - priorityWeight[priority]
	if err := q.client.ZAdd(ctx, waitKey, redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		if dedupKey != "" {
			q.client.Del(ctx, dedupPrefix+dedupKey)
		}
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	if dedupKey != "" {
		q.client.Set(ctx, dedupPrefix+dedupKey, job.ID, 24*time.Hour)
	}

	logger.InfoContext(ctx, "job enqueued", "job_id", job.ID, "kind", kind, "priority", priority)
	return job, nil
}

// ScheduleLocationCalculation enqueues a site-calculation job spanning
// [startYear, endYear] for one site (spec §4.6). Deliberately not
// deduplicated: concurrent admin requests for the same site are each
// honored, per spec §3's Job invariant carve-out for this kind.
func (q *Queue) ScheduleLocationCalculation(ctx context.Context, siteID int64, startYear, endYear int, priority domain.JobPriority) (domain.Job, error) {
	payload := map[string]any{"siteId": siteID, "startYear": startYear, "endYear": endYear}
	return q.Enqueue(ctx, domain.JobSiteCalculation, "", payload, priority, 0)
}

// ScheduleMonthlyCalculation enqueues a monthly-calculation job for the
// given siteIDs, deduplicated by "monthly-YYYY-M" (spec §4.6, tested by
// spec §8's "concurrent callers result in exactly one queued job").
func (q *Queue) ScheduleMonthlyCalculation(ctx context.Context, year, month int, siteIDs []int64, priority domain.JobPriority) (domain.Job, error) {
	dedupKey := fmt.Sprintf("monthly-%d-%d", year, month)
	payload := map[string]any{"year": year, "month": month, "siteIds": siteIDs}
	return q.Enqueue(ctx, domain.JobMonthlyCalculation, dedupKey, payload, priority, 0)
}

func (q *Queue) persist(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.Set(ctx, jobHashPrefix+job.ID, data, 0).Err()
}

func (q *Queue) load(ctx context.Context, id string) (*domain.Job, error) {
	data, err := q.client.Get(ctx, jobHashPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// ErrDuplicateJob is returned by Enqueue when dedupKey already has a
// waiting or active job.
var ErrDuplicateJob = fmt.Errorf("queue: duplicate job for dedup key")

// Start launches the worker pool. Workers poll the wait ZSET, move a job
// to the processing set, run it through the handler, and retry with
// backoff on failure.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	n := int(q.concurrency.Load())
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx, i)
	}
	q.wg.Add(1)
	go q.stallWatcher(workerCtx)

	logger.Info("queue worker pool started", "workers", n)
}

// Stop cancels all workers and waits for in-flight jobs to finish (spec
// §4.10's "close queue/worker, waits for in-flight jobs").
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

// Close releases the broker connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok := q.claimNext(ctx)
		if !ok {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		q.process(ctx, jobID)
	}
}

// claimNext pops the earliest-scoring ready job from the wait set into
// processing, atomically enough for single-broker use (a production
// multi-broker deployment would move to a Lua script; noted in DESIGN.md).
func (q *Queue) claimNext(ctx context.Context) (string, bool) {
	now := float64(time.Now().Unix())
	ids, err := q.client.ZRangeByScore(ctx, waitKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now), Count: 1}).Result()
	if err != nil || len(ids) == 0 {
		return "", false
	}
	id := ids[0]

	removed, err := q.client.ZRem(ctx, waitKey, id).Result()
	if err != nil || removed == 0 {
		return "", false // another worker claimed it first
	}

	q.client.ZAdd(ctx, processingKey, redis.Z{Score: float64(time.Now().Unix()), Member: id})
	return id, true
}

func (q *Queue) process(ctx context.Context, jobID string) {
	_, span := q.observer.CreateSpan(ctx, "queue.process")
	defer span.End()

	job, err := q.load(ctx, jobID)
	if err != nil || job == nil {
		logger.ErrorContext(ctx, "failed to load claimed job", "job_id", jobID, "error", err)
		q.client.ZRem(ctx, processingKey, jobID)
		return
	}

	job.State = domain.JobActive
	job.Attempts++
	job.UpdatedAt = time.Now()
	q.persist(ctx, *job)

	var handlerErr error
	if q.handler == nil {
		handlerErr = fmt.Errorf("queue: no handler attached")
	} else {
		handlerErr = q.handler(ctx, *job)
	}

	q.client.ZRem(ctx, processingKey, jobID)

	if handlerErr == nil {
		job.State = domain.JobCompleted
		job.UpdatedAt = time.Now()
		q.persist(ctx, *job)
		if job.DedupKey != "" {
			q.client.Del(ctx, dedupPrefix+job.DedupKey)
		}
		q.client.Incr(ctx, completedCounterKey)
		logger.InfoContext(ctx, "job completed", "job_id", jobID, "attempts", job.Attempts)
		return
	}

	job.LastError = handlerErr.Error()
	if job.Attempts >= job.MaxAttempts {
		job.State = domain.JobFailed
		job.UpdatedAt = time.Now()
		q.persist(ctx, *job)
		if job.DedupKey != "" {
			q.client.Del(ctx, dedupPrefix+job.DedupKey)
		}
		q.client.Incr(ctx, failedCounterKey)
		q.client.ZAdd(ctx, failedKey, redis.Z{Score: float64(job.UpdatedAt.Unix()), Member: job.ID})
		logger.ErrorContext(ctx, "job failed permanently", "job_id", jobID, "attempts", job.Attempts, "error", handlerErr)
		return
	}

	backoff := time.Duration(job.Attempts*job.Attempts) * time.Second
	job.State = domain.JobDelayed
	job.UpdatedAt = time.Now()
	q.persist(ctx, *job)
	score := float64(time.Now().Add(backoff).Unix()) - priorityWeight[job.Priority]
	q.client.ZAdd(ctx, waitKey, redis.Z{Score: score, Member: jobID})
	logger.WarnContext(ctx, "job failed, retrying with backoff", "job_id", jobID, "attempts", job.Attempts, "backoff", backoff, "error", handlerErr)
}

// stallWatcher requeues jobs that have sat in the processing set past
// stallTimeout without completing, the detection spec §4.6 names.
func (q *Queue) stallWatcher(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := float64(time.Now().Add(-stallTimeout).Unix())
			stalled, err := q.client.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", cutoff)}).Result()
			if err != nil {
				continue
			}
			for _, id := range stalled {
				q.client.ZRem(ctx, processingKey, id)
				q.client.ZAdd(ctx, waitKey, redis.Z{Score: float64(time.Now().Unix()), Member: id})
				logger.Warn("requeued stalled job", "job_id", id)
			}
		}
	}
}

// UpdateConcurrency resizes the live worker pool (spec §6 PUT
// /api/admin/queue/concurrency), restarting workers against the new count.
func (q *Queue) UpdateConcurrency(ctx context.Context, newConcurrency int) (old int, err error) {
	old = int(q.concurrency.Swap(int32(newConcurrency)))

	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if !running {
		return old, nil
	}

	q.Stop()
	q.Start(ctx)
	return old, nil
}

// RecentFailure is one entry of GetStats' "up to 10 most recent
// failures" (spec §4.6), carrying enough of the job to diagnose it.
type RecentFailure struct {
	JobID     string         `json:"jobId"`
	Kind      domain.JobKind `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Reason    string         `json:"reason"`
	FailedAt  time.Time      `json:"failedAt"`
	Attempts  int            `json:"attempts"`
}

// Stats backs GET /api/admin/queue/stats: counts per job state plus the
// most recent failures with payload and reason (spec §4.6 GetStats).
type Stats struct {
	Waiting         int64            `json:"waiting"`
	Active          int64            `json:"active"`
	Completed       int64            `json:"completed"`
	Failed          int64            `json:"failed"`
	Concurrency     int              `json:"concurrency"`
	RecentFailures  []RecentFailure  `json:"recentFailures"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.client.ZCard(ctx, waitKey).Result()
	if err != nil {
		return Stats{}, err
	}
	processing, err := q.client.ZCard(ctx, processingKey).Result()
	if err != nil {
		return Stats{}, err
	}
	completed, err := q.client.Get(ctx, completedCounterKey).Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	failed, err := q.client.Get(ctx, failedCounterKey).Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}

	recent, err := q.recentFailures(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Waiting:        waiting,
		Active:         processing,
		Completed:      completed,
		Failed:         failed,
		Concurrency:    int(q.concurrency.Load()),
		RecentFailures: recent,
	}, nil
}

func (q *Queue) recentFailures(ctx context.Context) ([]RecentFailure, error) {
	ids, err := q.client.ZRevRangeByScore(ctx, failedKey, &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: recentFailuresLimit}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RecentFailure, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil || job == nil {
			continue
		}
		out = append(out, RecentFailure{
			JobID:    job.ID,
			Kind:     job.Kind,
			Payload:  job.Payload,
			Reason:   job.LastError,
			FailedAt: job.UpdatedAt,
			Attempts: job.Attempts,
		})
	}
	return out, nil
}

// CleanFailedJobs removes terminally-failed job hashes (spec §6 POST
// /api/admin/queue/clear-failed), returning how many were removed. The
// failed-jobs ZSET (kept only for GetStats' recent-failures view) is
// trimmed alongside the hash so cleared jobs stop appearing there too.
func (q *Queue) CleanFailedJobs(ctx context.Context) (int, error) {
	ids, err := q.client.ZRange(ctx, failedKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	var cleaned int
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			continue
		}
		if job != nil && job.State == domain.JobFailed {
			q.client.Del(ctx, jobHashPrefix+id)
			cleaned++
		}
		q.client.ZRem(ctx, failedKey, id)
	}
	return cleaned, nil
}
