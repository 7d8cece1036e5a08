// Package api serves the dashboard-facing JSON endpoints: session catalog,
// cleaned tracks, quality reports, KPIs, and bridge stats.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/altitude"
	"github.com/ecotele-data/telemetry.bridge/internal/bridge"
	"github.com/ecotele-data/telemetry.bridge/internal/catalog"
	"github.com/ecotele-data/telemetry.bridge/internal/kpi"
	"github.com/ecotele-data/telemetry.bridge/internal/merge"
	"github.com/ecotele-data/telemetry.bridge/internal/quality"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/track"
	"github.com/ecotele-data/telemetry.bridge/internal/units"
	"github.com/ecotele-data/telemetry.bridge/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SessionLister provides the session catalog.
type SessionLister interface {
	Scan(ctx context.Context) ([]catalog.SessionInfo, error)
}

// HistoryFetcher pages a session's stored samples.
type HistoryFetcher interface {
	FetchSession(ctx context.Context, sessionID string, src telemetry.Source) ([]telemetry.Sample, catalog.PaginationStats, error)
}

// LiveState exposes the running bridge's identity and counters.
type LiveState interface {
	Session() telemetry.SessionContext
	Snapshot() bridge.StatsSnapshot
}

type Server struct {
	lister   SessionLister
	fetcher  HistoryFetcher
	live     LiveState
	timeline *merge.Timeline
	monitor  *quality.Monitor
	units    string

	pagMu sync.Mutex
	pag   paginationSummary
}

// paginationSummary aggregates fetch behavior across every session the API
// has paged so far.
type paginationSummary struct {
	Requests          int `json:"requests"`
	Rows              int `json:"rows"`
	LargestSession    int `json:"largest_session"`
	PaginatedSessions int `json:"paginated_sessions"`
}

// NewServer builds a Server. defaultUnits is used when a request carries no
// units parameter; empty means m/s.
func NewServer(lister SessionLister, fetcher HistoryFetcher, live LiveState, timeline *merge.Timeline, monitor *quality.Monitor, defaultUnits string) *Server {
	if defaultUnits == "" {
		defaultUnits = units.MPS
	}
	return &Server{
		lister:   lister,
		fetcher:  fetcher,
		live:     live,
		timeline: timeline,
		monitor:  monitor,
		units:    defaultUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, URI, status, and duration for each request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.showHealth)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}/track", s.showTrack)
	mux.HandleFunc("GET /api/sessions/{id}/quality", s.showQuality)
	mux.HandleFunc("GET /api/sessions/{id}/kpis", s.showKPIs)
	mux.HandleFunc("GET /api/stats", s.showStats)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestUnits resolves the speed unit for a request, falling back to the
// server default. Reports false after writing an error response.
func (s *Server) requestUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		s.writeJSONError(w, http.StatusBadRequest,
			"Invalid 'units' parameter; valid units are: "+units.ValidUnitsString())
		return "", false
	}
	return u, true
}

// sessionSamples returns a session's merged samples: the in-memory timeline
// for the active session, a paged history fetch for anything else.
func (s *Server) sessionSamples(ctx context.Context, sessionID string) ([]telemetry.Sample, error) {
	if sessionID == s.live.Session().ID {
		return s.timeline.Snapshot(), nil
	}
	samples, stats, err := s.fetcher.FetchSession(ctx, sessionID, telemetry.SourceBulkHistorical)
	if err == nil {
		s.recordPagination(stats)
	}
	return samples, err
}

func (s *Server) recordPagination(stats catalog.PaginationStats) {
	s.pagMu.Lock()
	defer s.pagMu.Unlock()
	s.pag.Requests += stats.Requests
	s.pag.Rows += stats.Rows
	if stats.LargestSession > s.pag.LargestSession {
		s.pag.LargestSession = stats.LargestSession
	}
	if stats.Paginated {
		s.pag.PaginatedSessions++
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.lister.Scan(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to scan sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []catalog.SessionInfo{}
	}
	s.writeJSON(w, sessions)
}

// trackResponse is the map-ready view of one session.
type trackResponse struct {
	SessionID  string           `json:"session_id"`
	Units      string           `json:"units"`
	Points     []track.Point    `json:"points"`
	Center     track.Center     `json:"center"`
	Zoom       float64          `json:"zoom"`
	TrackStats track.CleanStats `json:"track_stats"`
	Altitude   altitudeSeries   `json:"altitude"`
}

type altitudeSeries struct {
	Timestamps []string       `json:"timestamps"`
	Values     []float64      `json:"values"`
	Stats      altitude.Stats `json:"stats"`
}

func (s *Server) showTrack(w http.ResponseWriter, r *http.Request) {
	targetUnits, ok := s.requestUnits(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")

	samples, err := s.sessionSamples(r.Context(), sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}
	if len(samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "No data for session")
		return
	}

	points, stats := track.Clean(samples)
	for i := range points {
		points[i].Speed = units.ConvertSpeed(points[i].Speed, targetUnits)
	}
	center, zoom := track.CenterZoom(points)

	// Altitude is cleaned over the whole session, not just rows with a
	// usable GPS fix, so the profile renders even when the map cannot.
	values := make([]float64, len(samples))
	times := make([]time.Time, len(samples))
	stamps := make([]string, len(samples))
	for i, smp := range samples {
		values[i] = smp.Altitude
		times[i] = smp.Timestamp
		stamps[i] = smp.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	denoised, altStats := altitude.Denoise(values, times)

	s.writeJSON(w, trackResponse{
		SessionID:  sessionID,
		Units:      targetUnits,
		Points:     points,
		Center:     center,
		Zoom:       zoom,
		TrackStats: stats,
		Altitude: altitudeSeries{
			Timestamps: stamps,
			Values:     denoised,
			Stats:      altStats,
		},
	})
}

// qualityResponse bundles the timeline report with the live alerts.
type qualityResponse struct {
	SessionID string                   `json:"session_id"`
	Report    quality.Report           `json:"report"`
	Sensors   *quality.SensorAlert     `json:"sensors,omitempty"`
	Staleness *quality.StalenessStatus `json:"staleness,omitempty"`
}

func (s *Server) showQuality(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	samples, err := s.sessionSamples(r.Context(), sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}

	resp := qualityResponse{
		SessionID: sessionID,
		Report:    quality.BuildReport(samples),
		Sensors:   quality.CheckSensors(samples),
	}
	if s.monitor != nil && sessionID == s.live.Session().ID {
		status := s.monitor.Check()
		resp.Staleness = &status
	}
	s.writeJSON(w, resp)
}

func (s *Server) showKPIs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	samples, err := s.sessionSamples(r.Context(), sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}
	if len(samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "No data for session")
		return
	}
	s.writeJSON(w, kpi.Compute(samples))
}

// statsResponse inlines the bridge counters and adds the fetch aggregates.
type statsResponse struct {
	bridge.StatsSnapshot
	Pagination paginationSummary `json:"pagination"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	s.pagMu.Lock()
	pag := s.pag
	s.pagMu.Unlock()
	s.writeJSON(w, statsResponse{
		StatsSnapshot: s.live.Snapshot(),
		Pagination:    pag,
	})
}
