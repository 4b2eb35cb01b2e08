package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/metrics"
)

type fakeStatus struct {
	status crawl.Status
}

func (f *fakeStatus) Status() crawl.Status { return f.status }

type fakeOutbox struct {
	pending    int64
	deadLetter int64
	err        error
}

func (f *fakeOutbox) PendingCount(context.Context) (int64, error)    { return f.pending, f.err }
func (f *fakeOutbox) DeadLetterCount(context.Context) (int64, error) { return f.deadLetter, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeStatus, *crawl.RingRecorder) {
	t.Helper()
	status := &fakeStatus{status: crawl.Status{
		RunID: "run-1",
		Brand: "hilton",
		State: "running",
	}}
	ring := crawl.NewRingRecorder(16)
	return NewHandlers(status, ring, metrics.NewCrawlMetrics(), testLogger()), status, ring
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetHealthOK(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := get(t, h.Routes(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "outbox")
}

func TestGetHealthReportsOutboxDepth(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	h.WithOutbox(&fakeOutbox{pending: 7, deadLetter: 1})

	rec := get(t, h.Routes(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Outbox struct {
			Pending    int64 `json:"pending"`
			DeadLetter int64 `json:"dead_letter"`
		} `json:"outbox"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(7), body.Outbox.Pending)
	assert.Equal(t, int64(1), body.Outbox.DeadLetter)
}

func TestGetHealthDegradesOnDeadLetterBacklog(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	h.WithOutbox(&fakeOutbox{deadLetter: 500})

	rec := get(t, h.Routes(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "dead letter")
}

func TestGetHealthSurvivesOutboxError(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	h.WithOutbox(&fakeOutbox{err: errors.New("db down")})

	rec := get(t, h.Routes(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatus(t *testing.T) {
	h, status, _ := newTestHandlers(t)
	status.status.ItemsScraped = 42

	rec := get(t, h.Routes(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawl.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hilton", got.Brand)
	assert.Equal(t, "running", got.State)
	assert.Equal(t, 42, got.ItemsScraped)
}

func TestGetStatusWithoutEngine(t *testing.T) {
	h := NewHandlers(nil, nil, nil, testLogger())

	rec := get(t, h.Routes(), "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRecentEventsNewestFirst(t *testing.T) {
	h, _, ring := newTestHandlers(t)
	ring.Record(crawl.Event{ID: "older", Type: crawl.EventItemScraped})
	ring.Record(crawl.Event{ID: "newer", Type: crawl.EventPageAdvanced})

	rec := get(t, h.Routes(), "/events/recent")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []crawl.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "newer", events[0].ID)
	assert.Equal(t, "older", events[1].ID)
}

func TestGetRecentEventsLimit(t *testing.T) {
	h, _, ring := newTestHandlers(t)
	for i := 0; i < 5; i++ {
		ring.Record(crawl.Event{ID: string(rune('a' + i))})
	}

	rec := get(t, h.Routes(), "/events/recent?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []crawl.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 2)
}

func TestGetRecentEventsRejectsBadLimit(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := get(t, h.Routes(), "/events/recent?limit=many")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	status := &fakeStatus{}
	m := metrics.NewCrawlMetrics()
	h := NewHandlers(status, nil, m, testLogger())

	m.ItemScraped("hilton")

	rec := get(t, h.Routes(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "crawl_items_scraped_total"),
		"metrics output should include crawl counters")
}

func TestMetricsEndpointAbsentWithoutRegistry(t *testing.T) {
	h := NewHandlers(&fakeStatus{}, nil, nil, testLogger())

	rec := get(t, h.Routes(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
