package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/calendar"
	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/ephemeris"
	"github.com/skytower/alignments/internal/eventcache"
	"github.com/skytower/alignments/internal/geometry"
	"github.com/skytower/alignments/internal/repository/memrepo"
	"github.com/skytower/alignments/internal/settings"
	"github.com/skytower/alignments/internal/sites"
	"github.com/skytower/alignments/internal/solver"
)

func newTestServer(t *testing.T) (*Server, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()

	provider := ephemeris.NewAlgorithmicProvider()
	sv := solver.New(provider)
	generator := eventcache.New(store, store, sv)
	calSvc := calendar.New(store, store, generator)

	apex := sites.Apex{Point: geometry.Point{Latitude: 35.71, Longitude: 139.81}, HeightMeters: 634}
	siteSvc := sites.New(store, apex, nil)

	settingsStore := settings.New(store, settings.DefaultTTL)

	srv := New(calSvc, siteSvc, settingsStore, nil, nil, sv, "test-admin-token")
	return srv, store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestLocationsListIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestLocationsCreateRequiresAdminToken(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := strings.NewReader(`{"name":"Riverside","latitude":35.6,"longitude":139.7,"elevationMeters":10}`)
	req := httptest.NewRequest(http.MethodPost, "/api/locations", payload)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLocationsCreateWithAdminTokenSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := strings.NewReader(`{"name":"Riverside","latitude":35.6,"longitude":139.7,"elevationMeters":10}`)
	req := httptest.NewRequest(http.MethodPost, "/api/locations", payload)
	req.Header.Set("Authorization", "Bearer test-admin-token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var site domain.Site
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &site))
	assert.NotZero(t, site.ID)
	assert.NotZero(t, site.AzimuthToApexDeg)
}

func TestCalendarRejectsYearOutOfRange(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/2019/7", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalendarAcceptsBoundaryYear2020(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/2020/7", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQueueAdminRoutesDegradeWhenBrokerDisabled(t *testing.T) {
	srv, _ := newTestServer(t) // constructed with a nil queue, as DISABLE_REDIS=true wires it

	for path, method := range map[string]string{
		"/api/admin/queue/stats":        http.MethodGet,
		"/api/admin/queue/clear-failed": http.MethodPost,
	} {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer test-admin-token")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "path %s should degrade, not panic, with no broker", path)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, false, body["enabled"])
	}
}

func TestMapSearchRunsLiveSolveOverAdHocPoint(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := strings.NewReader(`{
		"latitude": 35.71, "longitude": 139.5, "elevation": 5,
		"scene": "diamond", "searchMode": "fast",
		"startDate": "2026-03-01", "endDate": "2026-03-02"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/map-search", payload)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	metadata, ok := body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), metadata["daysSearched"])
	// events may legitimately be empty for these coordinates/dates; the
	// point of this test is that a real solve ran (2 days, not a stub).
	_, hasEvents := body["events"]
	assert.True(t, hasEvents)
}

func TestMapSearchRejectsInvalidDateRange(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := strings.NewReader(`{"latitude":35.7,"longitude":139.5,"startDate":"2026-03-05","endDate":"2026-03-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/map-search", payload)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRejectMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/queue/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
