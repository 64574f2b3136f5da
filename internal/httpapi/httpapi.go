// Package httpapi exposes the public and admin HTTP surface (spec §6)
// over net/http.ServeMux, styled after the teacher's gateway/server.go:
// CORS via rs/cors, structured request logging and tracing via
// observability.HTTPMiddleware, plain JSON bodies.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/skytower/alignments/internal/calendar"
	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
	"github.com/skytower/alignments/internal/queue"
	"github.com/skytower/alignments/internal/scheduler"
	"github.com/skytower/alignments/internal/settings"
	"github.com/skytower/alignments/internal/sites"
	"github.com/skytower/alignments/internal/solver"
)

var logger = log.Logger()

const version = "0.1.0"

// Server wires the calendar/sites/settings/queue services to HTTP
// handlers and owns the net/http.Server lifecycle.
type Server struct {
	calendar  *calendar.Service
	sites     *sites.Service
	settings  *settings.Store
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	solver    *solver.Solver

	adminToken string
	httpServer *http.Server
}

// New constructs a Server. adminToken gates every /api/admin/* route via
// a bearer-token check; the full admin credential/refresh-token system
// is an external collaborator per spec §3, so this is the minimal
// in-core stand-in the core contract requires. sv backs the ad-hoc
// map-search solve (spec §6's POST /api/map-search).
func New(cal *calendar.Service, siteSvc *sites.Service, settingsStore *settings.Store, q *queue.Queue, sched *scheduler.Scheduler, sv *solver.Solver, adminToken string) *Server {
	return &Server{calendar: cal, sites: siteSvc, settings: settingsStore, queue: q, scheduler: sched, solver: sv, adminToken: adminToken}
}

// Handler builds the routed, middleware-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/locations", s.handleLocations)
	mux.HandleFunc("/api/locations/", s.handleLocationByID)
	mux.HandleFunc("/api/calendar/", s.handleCalendarRoutes)
	mux.HandleFunc("/api/events/", s.handleEventsRoutes)
	mux.HandleFunc("/api/map-search", s.handleMapSearch)

	mux.HandleFunc("/api/admin/queue/stats", s.requireAdmin(s.handleQueueStats))
	mux.HandleFunc("/api/admin/queue/concurrency", s.requireAdmin(s.handleQueueConcurrency))
	mux.HandleFunc("/api/admin/queue/clear-failed", s.requireAdmin(s.handleQueueClearFailed))
	mux.HandleFunc("/api/admin/queue/recalculate-location", s.requireAdmin(s.handleRecalculateLocation))
	mux.HandleFunc("/api/admin/queue/recalculate-month", s.requireAdmin(s.handleRecalculateMonth))
	mux.HandleFunc("/api/admin/system-settings", s.requireAdmin(s.handleSystemSettings))
	mux.HandleFunc("/api/admin/system-settings/", s.requireAdmin(s.handleSystemSettingByKey))
	mux.HandleFunc("/api/admin/scheduler/trigger-yearly", s.requireAdmin(s.handleTriggerYearly))
	mux.HandleFunc("/api/admin/scheduler/trigger-cleanup", s.requireAdmin(s.handleTriggerCleanup))

	handler := observability.HTTPMiddleware(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
	return c.Handler(handler)
}

func corsOrigins() []string {
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		return strings.Split(v, ",")
	}
	return []string{"*"}
}

// Start builds the listener and blocks until the server stops,
// matching the teacher's timeout configuration.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("http server starting", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes the listener and all open connections immediately;
// in-flight requests are not drained.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.adminToken == "" || token != s.adminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func readJSON(r *http.Request, dest any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   version,
	})
}

// --- Locations (Sites) ---

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		all, err := s.sites.List(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "locations": all, "count": len(all)})
	case http.MethodPost:
		if !s.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var f sites.Fields
		if err := readJSON(r, &f); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		site, err := s.sites.Create(ctx, f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, site)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLocationByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/locations/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		site, err := s.sites.Get(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if site == nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, site)
	case http.MethodPut:
		if !s.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var f sites.Fields
		if err := readJSON(r, &f); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		f.ID = &id
		site, err := s.sites.Upsert(ctx, f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, site)
	case http.MethodDelete:
		if !s.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.sites.Delete(ctx, id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) isAdmin(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return s.adminToken != "" && token == s.adminToken
}

// --- Calendar ---

func (s *Server) handleCalendarRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/calendar/")
	parts := strings.Split(path, "/")
	ctx := r.Context()

	switch {
	case len(parts) == 2 && parts[0] == "stats":
		year, err := strconv.Atoi(parts[1])
		if err != nil || year < 2020 || year > 2030 {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		stats, err := s.calendar.Stats(ctx, year)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case len(parts) == 3 && parts[0] == "location":
		siteID, err1 := strconv.ParseInt(parts[1], 10, 64)
		year, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || year < 2020 || year > 2030 {
			writeError(w, http.StatusBadRequest, "invalid params")
			return
		}
		events, err := s.calendar.SiteYearlyEvents(ctx, siteID, year)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	case len(parts) == 2:
		year, err1 := strconv.Atoi(parts[0])
		month, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || year < 2020 || year > 2030 || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "invalid year/month")
			return
		}
		view, err := s.calendar.MonthlyCalendar(ctx, year, month)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// --- Events ---

func (s *Server) handleEventsRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/events/")
	ctx := r.Context()

	if path == "upcoming" {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		events, err := s.calendar.UpcomingEvents(ctx, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	day, err := time.Parse("2006-01-02", path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	events, err := s.calendar.DayEvents(ctx, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// --- Map search ---

type mapSearchRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Elevation  float64 `json:"elevation"`
	Scene      string  `json:"scene"`
	SearchMode string  `json:"searchMode"`
	StartDate  string  `json:"startDate"`
	EndDate    string  `json:"endDate"`
}

// sceneEventTypes maps the map-search scene filter to solver event
// types (spec §6: scene in {all, diamond, pearl}).
func sceneEventTypes(scene string) []domain.EventType {
	switch scene {
	case "diamond":
		return []domain.EventType{domain.DiamondSunrise, domain.DiamondSunset}
	case "pearl":
		return []domain.EventType{domain.PearlRising, domain.PearlSetting}
	default:
		return []domain.EventType{domain.DiamondSunrise, domain.DiamondSunset, domain.PearlRising, domain.PearlSetting}
	}
}

// searchModePrecision maps map-search's searchMode vocabulary
// (auto/fast/balanced/precise, spec §6) onto the solver's
// PrecisionMode (high/medium/low, spec §4.3 step 2). "auto" defers to
// solver.ModeForRange over the requested date span.
func searchModePrecision(mode string, rangeDays int) solver.PrecisionMode {
	switch mode {
	case "fast":
		return solver.PrecisionLow
	case "balanced":
		return solver.PrecisionMedium
	case "precise":
		return solver.PrecisionHigh
	default:
		return solver.ModeForRange(rangeDays)
	}
}

// handleMapSearch runs a live solve over the requested, unregistered
// point (spec §6's POST /api/map-search contract, spec §1 "by ad-hoc
// map location"). The observer's apex geometry is derived exactly as
// sites.Service does for a registered site; no inverse geometry is
// needed since latitude/longitude/elevation arrive directly in the
// request.
func (s *Server) handleMapSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req mapSearchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}
	if endDate.Before(startDate) {
		writeError(w, http.StatusBadRequest, "endDate must not precede startDate")
		return
	}

	site := s.sites.DeriveEphemeral(req.Latitude, req.Longitude, req.Elevation)
	eventTypes := sceneEventTypes(req.Scene)
	rangeDays := int(endDate.Sub(startDate).Hours()/24) + 1

	opts := solver.DefaultOptions()
	opts.Mode = searchModePrecision(req.SearchMode, rangeDays)

	ctx := r.Context()
	var events []domain.Event
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		dayEvents, err := s.solver.Solve(ctx, site, day, time.UTC, eventTypes, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		events = append(events, dayEvents...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"events":       events,
		"searchParams": req,
		"metadata": map[string]any{
			"daysSearched": rangeDays,
			"precision":    opts.Mode,
		},
	})
}

// --- Admin: queue ---

// queueUnavailable reports spec §7's BrokerUnavailable surfacing ("503
// on write paths; stats show enabled=false") when the broker couldn't
// be reached at startup (spec §4.6 "degrades to scheduler-disabled
// mode"). Returns true (and writes the response) when there is no queue.
func (s *Server) queueUnavailable(w http.ResponseWriter) bool {
	if s.queue != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "enabled": false, "error": "queue unavailable"})
	return true
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.queueUnavailable(w) {
		return
	}
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueConcurrency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.queueUnavailable(w) {
		return
	}
	var body struct {
		Concurrency int `json:"concurrency"`
	}
	if err := readJSON(r, &body); err != nil || body.Concurrency < 1 || body.Concurrency > 10 {
		writeError(w, http.StatusBadRequest, "concurrency must be in [1,10]")
		return
	}
	old, err := s.queue.UpdateConcurrency(r.Context(), body.Concurrency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"oldConcurrency": old, "newConcurrency": body.Concurrency}})
}

func (s *Server) handleQueueClearFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.queueUnavailable(w) {
		return
	}
	cleaned, err := s.queue.CleanFailedJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleanedCount": cleaned})
}

func (s *Server) handleRecalculateLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		LocationID int64  `json:"locationId"`
		StartYear  int    `json:"startYear"`
		EndYear    int    `json:"endYear"`
		Priority   string `json:"priority"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if s.queueUnavailable(w) {
		return
	}
	priority := domain.JobPriority(body.Priority)
	if priority == "" {
		priority = domain.PriorityNormal
	}
	job, err := s.queue.ScheduleLocationCalculation(r.Context(), body.LocationID, body.StartYear, body.EndYear, priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": job.ID})
}

// handleRecalculateMonth enqueues a monthly-calculation job across the
// given sites, deduplicated by "monthly-YYYY-M" (spec §4.6/§8).
func (s *Server) handleRecalculateMonth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Year     int     `json:"year"`
		Month    int     `json:"month"`
		SiteIDs  []int64 `json:"siteIds"`
		Priority string  `json:"priority"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if s.queueUnavailable(w) {
		return
	}
	priority := domain.JobPriority(body.Priority)
	if priority == "" {
		priority = domain.PriorityNormal
	}
	job, err := s.queue.ScheduleMonthlyCalculation(r.Context(), body.Year, body.Month, body.SiteIDs, priority)
	if err == queue.ErrDuplicateJob {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": job.ID})
}

// --- Admin: scheduler manual triggers ---

func (s *Server) handleTriggerYearly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	s.scheduler.TriggerYearlyGeneration()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTriggerCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	s.scheduler.TriggerDailyCleanup()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// --- Admin: system settings ---

func (s *Server) handleSystemSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.All(ctx))
	case http.MethodPut:
		var payload []settings.Setting
		if err := readJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		for _, st := range payload {
			if err := s.settings.Upsert(ctx, st); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSystemSettingByKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/admin/system-settings/")
	ctx := r.Context()

	if key == "clear-cache" && r.Method == http.MethodPost {
		s.settings.Invalidate()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, ok := s.settings.Get(ctx, key)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodPut:
		var st settings.Setting
		if err := readJSON(r, &st); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		st.Key = key
		if err := s.settings.Upsert(ctx, st); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, st)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
