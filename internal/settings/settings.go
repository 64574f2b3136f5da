// Package settings implements the tuning-value store (spec component C4):
// a typed map of key -> value, cached in-process with a short TTL and
// backed by a repository port for durability.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
)

var logger = log.Logger()

// ValueType tags which of Setting's typed fields is populated.
type ValueType string

const (
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
)

// Setting is the persisted tuning value (spec §3 DATA MODEL).
type Setting struct {
	Key          string
	Category     string
	ValueType    ValueType
	NumberValue  float64
	StringValue  string
	BooleanValue bool
	Description  string
	Editable     bool
	UpdatedAt    time.Time
}

// Repository is the persistence port C4 reads/writes through.
type Repository interface {
	GetSetting(ctx context.Context, key string) (*Setting, error)
	ListSettings(ctx context.Context) ([]Setting, error)
	UpsertSetting(ctx context.Context, s Setting) error
}

// Recognized keys, exhaustively matching spec §4.4's configuration table.
const (
	KeyAzimuthTolerance         = "azimuth_tolerance"
	KeyElevationTolerance       = "elevation_tolerance"
	KeySearchInterval           = "search_interval"
	KeyAccuracyPerfectThreshold = "accuracy_perfect_threshold"
	KeyAccuracyExcellentThreshold = "accuracy_excellent_threshold"
	KeyAccuracyGoodThreshold    = "accuracy_good_threshold"
	KeyAccuracyFairThreshold    = "accuracy_fair_threshold"
	KeyElevationAccuracyPerfectThreshold   = "elevation_accuracy_perfect_threshold"
	KeyElevationAccuracyExcellentThreshold = "elevation_accuracy_excellent_threshold"
	KeyElevationAccuracyGoodThreshold      = "elevation_accuracy_good_threshold"
	KeyElevationAccuracyFairThreshold      = "elevation_accuracy_fair_threshold"
	KeyWorkerConcurrency        = "worker_concurrency"
	KeyMaxActiveJobs            = "max_active_jobs"
	KeyJobDelayMS               = "job_delay_ms"
	KeyProcessingDelayMS        = "processing_delay_ms"
	KeyEnableLowPriorityMode    = "enable_low_priority_mode"
	KeyMinMoonIllumination      = "min_moon_illumination"
)

// defaults is the hard-coded fallback used when both the cache and the
// repository miss a key, keyed identically to the recognized-keys table.
var defaults = map[string]Setting{
	KeyAzimuthTolerance:           {ValueType: TypeNumber, NumberValue: 2.0},
	KeyElevationTolerance:         {ValueType: TypeNumber, NumberValue: 1.0},
	KeySearchInterval:             {ValueType: TypeNumber, NumberValue: 60},
	KeyAccuracyPerfectThreshold:   {ValueType: TypeNumber, NumberValue: 0.1},
	KeyAccuracyExcellentThreshold: {ValueType: TypeNumber, NumberValue: 0.25},
	KeyAccuracyGoodThreshold:      {ValueType: TypeNumber, NumberValue: 0.4},
	KeyAccuracyFairThreshold:      {ValueType: TypeNumber, NumberValue: 0.6},
	KeyElevationAccuracyPerfectThreshold:   {ValueType: TypeNumber, NumberValue: 0.1},
	KeyElevationAccuracyExcellentThreshold: {ValueType: TypeNumber, NumberValue: 0.25},
	KeyElevationAccuracyGoodThreshold:      {ValueType: TypeNumber, NumberValue: 0.4},
	KeyElevationAccuracyFairThreshold:      {ValueType: TypeNumber, NumberValue: 0.6},
	KeyWorkerConcurrency:          {ValueType: TypeNumber, NumberValue: 2},
	KeyMaxActiveJobs:              {ValueType: TypeNumber, NumberValue: 10},
	KeyJobDelayMS:                 {ValueType: TypeNumber, NumberValue: 1000},
	KeyProcessingDelayMS:          {ValueType: TypeNumber, NumberValue: 50},
	KeyEnableLowPriorityMode:      {ValueType: TypeBoolean, BooleanValue: false},
	KeyMinMoonIllumination:        {ValueType: TypeNumber, NumberValue: 0.1},
}

// DefaultTTL is the cache freshness window spec §4.4 calls "~60s".
const DefaultTTL = 60 * time.Second

// Store is the TTL-cached settings façade every other component reads
// tuning values through.
type Store struct {
	repo Repository
	ttl  time.Duration

	mu       sync.RWMutex
	cache    map[string]Setting
	cachedAt time.Time

	observer observability.ObserverInterface
}

// New constructs a Store backed by repo, with the given cache TTL (use
// DefaultTTL unless a test needs tighter control).
func New(repo Repository, ttl time.Duration) *Store {
	return &Store{
		repo:     repo,
		ttl:      ttl,
		cache:    make(map[string]Setting),
		observer: observability.Observer(),
	}
}

func (s *Store) stale() bool {
	return time.Since(s.cachedAt) > s.ttl
}

// refresh repopulates the whole cache from the repository. Callers must
// not hold s.mu.
func (s *Store) refresh(ctx context.Context) error {
	all, err := s.repo.ListSettings(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Setting, len(all))
	for _, st := range all {
		s.cache[st.Key] = st
	}
	s.cachedAt = time.Now()
	return nil
}

func (s *Store) lookup(key string) (Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cache[key]
	return st, ok
}

// GetNumber returns the cached or persisted number value for key, falling
// back to the hard-coded default for key when both miss, and to def only
// when key has no hard-coded default.
func (s *Store) GetNumber(ctx context.Context, key string, def float64) float64 {
	if s.stale() {
		if err := s.refresh(ctx); err != nil {
			logger.WarnContext(ctx, "settings refresh failed, serving stale/default", "key", key, "error", err)
		}
	}
	if st, ok := s.lookup(key); ok && st.ValueType == TypeNumber {
		return st.NumberValue
	}
	if d, ok := defaults[key]; ok && d.ValueType == TypeNumber {
		return d.NumberValue
	}
	return def
}

// GetBool mirrors GetNumber for boolean-typed settings.
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	if s.stale() {
		if err := s.refresh(ctx); err != nil {
			logger.WarnContext(ctx, "settings refresh failed, serving stale/default", "key", key, "error", err)
		}
	}
	if st, ok := s.lookup(key); ok && st.ValueType == TypeBoolean {
		return st.BooleanValue
	}
	if d, ok := defaults[key]; ok && d.ValueType == TypeBoolean {
		return d.BooleanValue
	}
	return def
}

// GetString mirrors GetNumber for string-typed settings.
func (s *Store) GetString(ctx context.Context, key string, def string) string {
	if s.stale() {
		if err := s.refresh(ctx); err != nil {
			logger.WarnContext(ctx, "settings refresh failed, serving stale/default", "key", key, "error", err)
		}
	}
	if st, ok := s.lookup(key); ok && st.ValueType == TypeString {
		return st.StringValue
	}
	if d, ok := defaults[key]; ok && d.ValueType == TypeString {
		return d.StringValue
	}
	return def
}

// Upsert persists a setting and invalidates the cache so the next read
// observes it (subject to the momentary staleness spec §5 tolerates).
func (s *Store) Upsert(ctx context.Context, st Setting) error {
	_, span := s.observer.CreateSpan(ctx, "settings.Upsert")
	defer span.End()

	st.UpdatedAt = time.Now()
	if err := s.repo.UpsertSetting(ctx, st); err != nil {
		return err
	}

	s.mu.Lock()
	s.cachedAt = time.Time{} // force refresh on next read
	s.mu.Unlock()

	logger.InfoContext(ctx, "setting upserted", "key", st.Key, "category", st.Category)
	return nil
}

// Invalidate forces the next read to refresh from the repository,
// independent of Upsert. Used by the admin clear-cache endpoint when an
// operator suspects a value changed outside this process.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

// Get returns a single setting by key, seeded from defaults if the
// repository has never seen it (used by the admin read API).
func (s *Store) Get(ctx context.Context, key string) (Setting, bool) {
	if s.stale() {
		_ = s.refresh(ctx)
	}
	if st, ok := s.lookup(key); ok {
		return st, true
	}
	if d, ok := defaults[key]; ok {
		d.Key = key
		return d, true
	}
	return Setting{}, false
}

// All returns every recognized key with its current effective value,
// defaults included, for the admin listing endpoint.
func (s *Store) All(ctx context.Context) []Setting {
	if s.stale() {
		_ = s.refresh(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Setting, 0, len(defaults))
	seen := make(map[string]bool)
	for key, st := range s.cache {
		out = append(out, st)
		seen[key] = true
	}
	for key, d := range defaults {
		if !seen[key] {
			d.Key = key
			out = append(out, d)
		}
	}
	return out
}

// SeedDefaults upserts every recognized key's hard-coded default into the
// repository, used once at bootstrap so the admin UI has rows to edit.
func (s *Store) SeedDefaults(ctx context.Context) error {
	for key, d := range defaults {
		d.Key = key
		if existing, err := s.repo.GetSetting(ctx, key); err == nil && existing != nil {
			continue
		}
		d.Editable = true
		d.UpdatedAt = time.Now()
		if err := s.repo.UpsertSetting(ctx, d); err != nil {
			return err
		}
	}
	return s.refresh(ctx)
}
