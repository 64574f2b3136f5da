// Package sites implements Site CRUD and apex-geometry derivation (spec
// component C9): user-provided apex fields win over auto-computed ones,
// an explicit null reverts a field to auto-computed, and any coordinate
// change triggers a recalculation job.
package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/geometry"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
	"github.com/skytower/alignments/internal/repository"
)

var logger = log.Logger()

// Apex is the fixed celestial-alignment target every site is measured
// against (the tower itself), configured once at startup.
type Apex struct {
	Point        geometry.Point
	HeightMeters float64
}

// Enqueuer is the subset of the queue core Service needs to trigger
// recalculation after a create/coordinate change.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, dedupKey string, payload map[string]any, priority domain.JobPriority, delay time.Duration) (domain.Job, error)
}

// Service is the Site CRUD façade.
type Service struct {
	repo     repository.Sites
	apex     Apex
	queue    Enqueuer
	observer observability.ObserverInterface
}

// New constructs a Service measuring sites against apex, persisting
// through repo, and triggering recalculation through queue.
func New(repo repository.Sites, apex Apex, queue Enqueuer) *Service {
	return &Service{repo: repo, apex: apex, queue: queue, observer: observability.Observer()}
}

// Fields is the partial, nullable-field input to Create/Update; a nil
// pointer for AzimuthToApexDeg/ElevationToApexDeg/DistanceToApexM means
// "auto-compute from lat/lon/elevation" (spec §4.9's "explicitly null
// field reverts to auto-computed" rule). A non-nil pointer wins over the
// derivation even if it disagrees with the geometry.
type Fields struct {
	ID                 *int64
	Name               string
	Prefecture         string
	Latitude           float64
	Longitude          float64
	ElevationMeters    float64
	Notes              string
	Status             domain.SiteStatus
	AzimuthToApexDeg   *float64
	ElevationToApexDeg *float64
	DistanceToApexM    *float64
}

func (s *Service) derive(f Fields) domain.Site {
	observer := geometry.Point{Latitude: f.Latitude, Longitude: f.Longitude}
	apexPoint := geometry.Apex{Point: s.apex.Point, HeightMeters: s.apex.HeightMeters}

	site := domain.Site{
		Name:            f.Name,
		Prefecture:      f.Prefecture,
		Latitude:        f.Latitude,
		Longitude:       f.Longitude,
		ElevationMeters: f.ElevationMeters,
		Notes:           f.Notes,
		Status:          f.Status,
	}
	if site.Status == "" {
		site.Status = domain.SiteActive
	}

	if f.AzimuthToApexDeg != nil {
		site.AzimuthToApexDeg = *f.AzimuthToApexDeg
	} else {
		site.AzimuthToApexDeg = geometry.AzimuthToApex(observer, apexPoint)
	}

	if f.DistanceToApexM != nil {
		site.DistanceToApexM = *f.DistanceToApexM
	} else {
		site.DistanceToApexM = geometry.DistanceToApex(observer, apexPoint)
	}

	if f.ElevationToApexDeg != nil {
		site.ElevationToApexDeg = *f.ElevationToApexDeg
	} else if elev, err := geometry.ElevationToApex(observer, f.ElevationMeters, apexPoint); err == nil {
		site.ElevationToApexDeg = elev
	} else {
		logger.Warn("elevation-to-apex derivation failed, leaving zero", "error", err)
	}

	return site
}

// DeriveEphemeral builds an unregistered, unpersisted domain.Site from
// raw observer coordinates using the same apex-geometry derivation as
// Create/Upsert. It backs map-search (spec §6's POST /api/map-search),
// which solves against an ad-hoc point rather than a registered site.
func (s *Service) DeriveEphemeral(latitude, longitude, elevationMeters float64) domain.Site {
	return s.derive(Fields{
		Name:            "map-search",
		Latitude:        latitude,
		Longitude:       longitude,
		ElevationMeters: elevationMeters,
		Status:          domain.SiteActive,
	})
}

// Create adds a new site, deriving any apex field not explicitly
// supplied, then enqueues a normal-priority recalculation job for the
// current and next year.
func (s *Service) Create(ctx context.Context, f Fields) (domain.Site, error) {
	_, span := s.observer.CreateSpan(ctx, "sites.Create")
	defer span.End()

	site := s.derive(f)
	created, err := s.repo.Create(ctx, site)
	if err != nil {
		return domain.Site{}, fmt.Errorf("create site: %w", err)
	}

	s.enqueueRecalculation(ctx, created.ID, domain.PriorityNormal)
	return created, nil
}

// Upsert implements spec §4.9's upsert-by-id rule: id present and found
// updates; id present and missing fails; id absent creates.
func (s *Service) Upsert(ctx context.Context, f Fields) (domain.Site, error) {
	if f.ID == nil {
		return s.Create(ctx, f)
	}

	existing, err := s.repo.Get(ctx, *f.ID)
	if err != nil {
		return domain.Site{}, fmt.Errorf("get site: %w", err)
	}
	if existing == nil {
		return domain.Site{}, repository.ErrNotFound
	}

	coordsChanged := existing.Latitude != f.Latitude || existing.Longitude != f.Longitude || existing.ElevationMeters != f.ElevationMeters

	site := s.derive(f)
	site.ID = *f.ID
	updated, err := s.repo.Update(ctx, site)
	if err != nil {
		return domain.Site{}, fmt.Errorf("update site: %w", err)
	}

	if coordsChanged {
		s.enqueueRecalculation(ctx, updated.ID, domain.PriorityHigh)
	}
	return updated, nil
}

// Delete removes a site and cascades to its cached events (handled by
// the repository adapter).
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Get returns a single site by id, or nil if none exists.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Site, error) {
	return s.repo.Get(ctx, id)
}

// List returns every site.
func (s *Service) List(ctx context.Context) ([]domain.Site, error) {
	return s.repo.List(ctx)
}

func (s *Service) enqueueRecalculation(ctx context.Context, siteID int64, priority domain.JobPriority) {
	if s.queue == nil {
		return
	}
	year := time.Now().Year()
	payload := map[string]any{"siteId": siteID, "startYear": year, "endYear": year + 1}
	if _, err := s.queue.Enqueue(ctx, domain.JobSiteCalculation, "", payload, priority, 0); err != nil {
		logger.ErrorContext(ctx, "failed to enqueue site recalculation", "site_id", siteID, "error", err)
	}
}

// ImportResult reports the outcome of a bulk import (spec §4.9).
type ImportResult struct {
	CreatedCount int
	UpdatedCount int
	ErrorCount   int
	Errors       []string
}

// Import upserts each site payload in data (a JSON array), per spec
// §4.9's import/export contract.
func (s *Service) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var payloads []Fields
	if err := json.Unmarshal(data, &payloads); err != nil {
		return ImportResult{}, fmt.Errorf("unmarshal import payload: %w", err)
	}

	var result ImportResult
	for _, f := range payloads {
		isUpdate := f.ID != nil
		if _, err := s.Upsert(ctx, f); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if isUpdate {
			result.UpdatedCount++
		} else {
			result.CreatedCount++
		}
	}
	return result, nil
}

// Export returns every site as the JSON array import expects.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(all)
}
