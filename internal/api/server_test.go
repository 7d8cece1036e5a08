package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotele-data/telemetry.bridge/internal/bridge"
	"github.com/ecotele-data/telemetry.bridge/internal/catalog"
	"github.com/ecotele-data/telemetry.bridge/internal/merge"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

type fakeLister struct {
	sessions []catalog.SessionInfo
	err      error
}

func (f *fakeLister) Scan(ctx context.Context) ([]catalog.SessionInfo, error) {
	return f.sessions, f.err
}

type fakeFetcher struct {
	samples map[string][]telemetry.Sample
	err     error
	calls   []string
}

func (f *fakeFetcher) FetchSession(ctx context.Context, sessionID string, src telemetry.Source) ([]telemetry.Sample, catalog.PaginationStats, error) {
	f.calls = append(f.calls, sessionID)
	if f.err != nil {
		return nil, catalog.PaginationStats{}, f.err
	}
	samples := f.samples[sessionID]
	return samples, catalog.PaginationStats{Requests: 1, Rows: len(samples), LargestSession: len(samples)}, nil
}

type fakeLive struct {
	session telemetry.SessionContext
	snap    bridge.StatsSnapshot
}

func (f *fakeLive) Session() telemetry.SessionContext { return f.session }
func (f *fakeLive) Snapshot() bridge.StatsSnapshot    { return f.snap }

func rideSample(i int) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
		Latitude:  59.3290 + float64(i)*0.0001,
		Longitude: 18.0680 + float64(i)*0.0001,
		Altitude:  100 + float64(i),
		Speed:     10,
		Voltage:   54,
		Current:   2,
		MessageID: uint32(i + 1),
	}
}

func testServer(t *testing.T) (*Server, *fakeFetcher, *fakeLive) {
	t.Helper()
	samples := make([]telemetry.Sample, 30)
	for i := range samples {
		samples[i] = rideSample(i)
	}
	fetcher := &fakeFetcher{samples: map[string][]telemetry.Sample{"old-session": samples}}
	live := &fakeLive{
		session: telemetry.SessionContext{ID: "live-session", Label: "Live"},
		snap:    bridge.StatsSnapshot{MessagesReceived: 42, SessionID: "live-session"},
	}
	timeline := merge.NewTimeline(0)
	timeline.Replace(samples)
	lister := &fakeLister{sessions: []catalog.SessionInfo{
		{ID: "live-session", Label: "Live", Rows: 30},
		{ID: "old-session", Label: "Morning ride", Rows: 30},
	}}
	srv := NewServer(lister, fetcher, live, timeline, nil, "")
	return srv, fetcher, live
}

func doRequest(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []catalog.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "Morning ride", sessions[1].Label)
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	t.Parallel()
	srv, fetcher, live := testServer(t)
	srv = NewServer(&fakeLister{}, fetcher, live, srv.timeline, nil, "")
	rec := doRequest(t, srv, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListSessionsError(t *testing.T) {
	t.Parallel()
	srv, fetcher, live := testServer(t)
	srv = NewServer(&fakeLister{err: errors.New("db locked")}, fetcher, live, srv.timeline, nil, "")
	rec := doRequest(t, srv, "/api/sessions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTrackHistoricalSession(t *testing.T) {
	t.Parallel()
	srv, fetcher, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/old-session/track")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"old-session"}, fetcher.calls)

	var resp trackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "old-session", resp.SessionID)
	assert.Equal(t, "mps", resp.Units)
	assert.Len(t, resp.Points, 30)
	assert.Equal(t, 30, resp.TrackStats.Retained)
	assert.Greater(t, resp.Zoom, 4.0)
	assert.InDelta(t, 59.33045, resp.Center.Latitude, 0.001)
	assert.Len(t, resp.Altitude.Values, 30)
	assert.Equal(t, 100.0, resp.Altitude.Values[0])
}

func TestTrackUnitsConversion(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/old-session/track?units=kmph")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp trackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "kmph", resp.Units)
	assert.InDelta(t, 36.0, resp.Points[0].Speed, 1e-9)
}

func TestTrackInvalidUnits(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/old-session/track?units=furlongs")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "valid units")
}

func TestTrackUnknownSession(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/no-such-session/track")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackActiveSessionUsesTimeline(t *testing.T) {
	t.Parallel()
	srv, fetcher, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/live-session/track")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fetcher.calls)
}

func TestQualityReport(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/old-session/quality")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp qualityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.Report.Rows)
	assert.InDelta(t, 1.0, resp.Report.MedianGap, 1e-9)
	assert.Nil(t, resp.Staleness)
}

func TestKPIEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/old-session/kpis")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 10.0, body["current_speed_ms"], 1e-9)
	assert.InDelta(t, 36.0, body["current_speed_kmh"], 1e-9)
}

func TestKPIUnknownSession(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/sessions/no-such-session/kpis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)
	rec := doRequest(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap bridge.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(42), snap.MessagesReceived)
	assert.Equal(t, "live-session", snap.SessionID)
}

func TestStatsAggregatePagination(t *testing.T) {
	t.Parallel()
	srv, _, _ := testServer(t)

	doRequest(t, srv, "/api/sessions/old-session/kpis")
	doRequest(t, srv, "/api/sessions/old-session/track")
	rec := doRequest(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Pagination.Requests)
	assert.Equal(t, 60, resp.Pagination.Rows)
	assert.Equal(t, 30, resp.Pagination.LargestSession)
	assert.Equal(t, 0, resp.Pagination.PaginatedSessions)
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(301), colorYellow)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
	assert.Equal(t, "102", statusCodeColor(102))
}
