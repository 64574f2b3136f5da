package sites

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/geometry"
	"github.com/skytower/alignments/internal/repository/memrepo"
)

type fakeQueue struct {
	enqueued []domain.Job
}

func (f *fakeQueue) Enqueue(ctx context.Context, kind domain.JobKind, dedupKey string, payload map[string]any, priority domain.JobPriority, delay time.Duration) (domain.Job, error) {
	job := domain.Job{Kind: kind, DedupKey: dedupKey, Payload: payload, Priority: priority}
	f.enqueued = append(f.enqueued, job)
	return job, nil
}

func testApex() Apex {
	return Apex{Point: geometry.Point{Latitude: 35.71, Longitude: 139.8108}, HeightMeters: 634}
}

func TestCreateDerivesApexGeometry(t *testing.T) {
	repo := memrepo.New()
	q := &fakeQueue{}
	svc := New(repo, testApex(), q)

	site, err := svc.Create(context.Background(), Fields{Name: "Overlook", Latitude: 35.0, Longitude: 139.0, ElevationMeters: 50})
	require.NoError(t, err)

	assert.NotZero(t, site.AzimuthToApexDeg)
	assert.NotZero(t, site.DistanceToApexM)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, domain.JobSiteCalculation, q.enqueued[0].Kind)
	assert.Equal(t, domain.PriorityNormal, q.enqueued[0].Priority)
}

func TestCreateHonorsExplicitApexOverride(t *testing.T) {
	repo := memrepo.New()
	svc := New(repo, testApex(), &fakeQueue{})

	override := 45.5
	site, err := svc.Create(context.Background(), Fields{
		Name: "Custom", Latitude: 35.0, Longitude: 139.0, ElevationMeters: 50,
		AzimuthToApexDeg: &override,
	})
	require.NoError(t, err)
	assert.Equal(t, 45.5, site.AzimuthToApexDeg)
}

func TestUpsertMissingIDFails(t *testing.T) {
	repo := memrepo.New()
	svc := New(repo, testApex(), &fakeQueue{})

	missing := int64(999)
	_, err := svc.Upsert(context.Background(), Fields{ID: &missing, Name: "Ghost"})
	assert.Error(t, err)
}

func TestUpsertCoordinateChangeEnqueuesHighPriority(t *testing.T) {
	repo := memrepo.New()
	q := &fakeQueue{}
	svc := New(repo, testApex(), q)

	created, err := svc.Create(context.Background(), Fields{Name: "A", Latitude: 35.0, Longitude: 139.0, ElevationMeters: 10})
	require.NoError(t, err)
	q.enqueued = nil

	id := created.ID
	_, err = svc.Upsert(context.Background(), Fields{ID: &id, Name: "A", Latitude: 36.0, Longitude: 139.0, ElevationMeters: 10})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, domain.PriorityHigh, q.enqueued[0].Priority)
}

func TestImportExportRoundTrip(t *testing.T) {
	repo := memrepo.New()
	svc := New(repo, testApex(), &fakeQueue{})

	_, err := svc.Create(context.Background(), Fields{Name: "A", Latitude: 35, Longitude: 139, ElevationMeters: 10})
	require.NoError(t, err)

	data, err := svc.Export(context.Background())
	require.NoError(t, err)

	result, err := svc.Import(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 0, result.ErrorCount)
}
