// Package api exposes the monitor endpoints of a running crawl: health,
// status, metrics and the recent event feed.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/metrics"
)

// StatusSource reports the live state of a crawl.
type StatusSource interface {
	Status() crawl.Status
}

// OutboxStats reports journal outbox depth. Satisfied by the relay; nil
// when no journal is configured.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	status  StatusSource
	events  *crawl.RingRecorder
	metrics *metrics.CrawlMetrics
	outbox  OutboxStats
	logger  *slog.Logger
}

func NewHandlers(status StatusSource, events *crawl.RingRecorder, m *metrics.CrawlMetrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		status:  status,
		events:  events,
		metrics: m,
		logger:  logger.With("component", "api"),
	}
}

// WithOutbox attaches journal outbox stats to the health endpoint.
func (h *Handlers) WithOutbox(outbox OutboxStats) *Handlers {
	h.outbox = outbox
	return h
}

// GetHealth reports process liveness plus journal outbox depth when a
// journal is configured.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
	}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, _ := h.outbox.PendingCount(r.Context())
		deadLetterCount, _ := h.outbox.DeadLetterCount(r.Context())

		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}

		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// GetStatus returns the crawl position, counters and last error.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.respondError(w, http.StatusServiceUnavailable, "no crawl running")
		return
	}
	h.respondJSON(w, http.StatusOK, h.status.Status())
}

// GetRecentEvents returns buffered journal events, newest first. The
// optional limit query parameter caps the response.
func (h *Handlers) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.respondJSON(w, http.StatusOK, []crawl.Event{})
		return
	}

	recent := h.events.Recent()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(recent) {
			recent = recent[:limit]
		}
	}

	h.respondJSON(w, http.StatusOK, recent)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
