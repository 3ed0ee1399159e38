package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) (*Engine, *httprouter.Router) {
	t.Helper()

	engine := newTestEngine(t)
	cfg := engine.cfg

	mux := httprouter.New()
	mux.GET("/metrics", serveMetrics(cfg, engine))
	mux.POST("/compliance/age", serveComplianceAge(cfg, engine))
	mux.POST("/analytics", serveAnalytics(cfg, engine))
	mux.POST("/client-error", serveClientError(cfg, engine))
	mux.GET("/quiz/:roomCode/qr", serveRoomQR(cfg, engine))

	return engine, mux
}

func TestMetricsEndpoint(t *testing.T) {
	engine, mux := testRouter(t)

	engine.mu.Lock()
	engine.getOrCreateRoom("ROOM")
	engine.metrics.JoinSuccess = 7
	engine.mu.Unlock()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var view metricsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1, view.RoomsActive)
	assert.Equal(t, int64(7), view.JoinSuccess)
	assert.Equal(t, int64(1), view.RoomsCreated)
}

func TestComplianceEndpoint(t *testing.T) {
	engine, mux := testRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/compliance/age", strings.NewReader(`{"accepted":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/compliance/age", strings.NewReader(`nonsense`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.compliance, 1)
	assert.True(t, engine.compliance[0].Accepted)
	assert.Positive(t, engine.compliance[0].At)
}

func TestAnalyticsEndpoint(t *testing.T) {
	engine, mux := testRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analytics", strings.NewReader(`{"event":"round_started","sessionId":"s1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analytics", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.analytics, 1)
	assert.Equal(t, "round_started", engine.analytics[0].Event)
}

func TestAnalyticsBufferBounded(t *testing.T) {
	engine, mux := testRouter(t)
	engine.cfg.analyticsLimit = 3

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analytics", strings.NewReader(`{"event":"tick"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Len(t, engine.analytics, 3)
}

func TestClientErrorEndpoint(t *testing.T) {
	engine, mux := testRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/client-error", strings.NewReader(`{"message":"boom","url":"/play"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.analytics, 1)
	assert.Equal(t, "client_error", engine.analytics[0].Event)
}

func TestRoomQREndpoint(t *testing.T) {
	engine, mux := testRouter(t)

	engine.mu.Lock()
	engine.getOrCreateRoom("ROOM")
	engine.mu.Unlock()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quiz/ROOM/qr", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quiz/NOPE/qr", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	assert.Equal(t, "192.0.2.10", realIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", realIP(r))

	r.Header.Set("CF-Connecting-IP", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", realIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 198.51.100.3")
	assert.Equal(t, "203.0.113.7", realIP(r))

	// Garbage headers fall back down the chain.
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "198.51.100.3", realIP(r))
}
