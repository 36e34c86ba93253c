// Package api exposes the HTTP ingest endpoint and queue diagnostics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/circuitbreaker"
	"github.com/lalithlochan/discordbridge/internal/events"
	"github.com/lalithlochan/discordbridge/internal/redis"
)

const maxEventBytes = 1 << 20

// EventHandler is implemented by events.Notifier.
type EventHandler interface {
	Handle(ctx context.Context, ev events.Event) error
}

type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// WorkerControl is implemented by worker.Worker.
type WorkerControl interface {
	Start() bool
	Running() bool
}

// Idempotency is implemented by redis.Idempotency.
type Idempotency interface {
	Reserve(ctx context.Context, key, eventID string) (string, error)
	Release(ctx context.Context, key string) error
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type BreakerStats interface {
	Stats() circuitbreaker.Stats
}

// ErrorResponse is an application/problem+json body.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type EventResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type QueueResponse struct {
	Pending       int                   `json:"pending"`
	WorkerRunning bool                  `json:"worker_running"`
	Breaker       *circuitbreaker.Stats `json:"circuit_breaker,omitempty"`
}

type DrainResponse struct {
	Started bool `json:"started"`
}

type Handler struct {
	logger      *zap.Logger
	events      EventHandler
	queue       QueueCounter
	worker      WorkerControl
	health      HealthChecker
	idempotency Idempotency  // nil without redis
	breaker     BreakerStats // nil when the breaker is disabled
}

type Option func(*Handler)

func WithIdempotency(i Idempotency) Option {
	return func(h *Handler) { h.idempotency = i }
}

func WithBreaker(b BreakerStats) Option {
	return func(h *Handler) { h.breaker = b }
}

func NewHandler(logger *zap.Logger, ev EventHandler, queue QueueCounter, worker WorkerControl, health HealthChecker, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		events: ev,
		queue:  queue,
		worker: worker,
		health: health,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PostEvent handles POST /v1/events.
// An Idempotency-Key header makes retries of the same event return the first event id.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Event too large", err.Error())
		return
	}

	ev, err := events.Decode(data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed event", err.Error())
		return
	}

	eventID := uuid.NewString()
	key := r.Header.Get("Idempotency-Key")

	if key != "" && h.idempotency != nil {
		existing, err := h.idempotency.Reserve(ctx, key, eventID)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.logger.Info("duplicate event ignored",
				zap.String("idempotency_key", key),
				zap.String("event_id", existing),
			)
			writeJSON(w, http.StatusOK, EventResponse{Status: "duplicate", EventID: existing})
			return
		case err != nil:
			// redis trouble should not block ingestion
			h.logger.Warn("idempotency check failed", zap.Error(err))
			key = ""
		}
	}

	if err := h.events.Handle(ctx, ev); err != nil {
		if key != "" {
			if rerr := h.idempotency.Release(ctx, key); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		if errors.Is(err, events.ErrInvalidEvent) {
			h.writeError(w, http.StatusBadRequest, "invalid_event", "Invalid event properties", err.Error())
			return
		}
		h.logger.Error("failed to handle event",
			zap.String("type", ev.Type),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "queue_error", "Failed to queue notification", "")
		return
	}

	writeJSON(w, http.StatusAccepted, EventResponse{Status: "accepted", EventID: eventID})
}

// GetQueue handles GET /v1/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read queue", "")
		return
	}

	resp := QueueResponse{Pending: count, WorkerRunning: h.worker.Running()}
	if h.breaker != nil {
		stats := h.breaker.Stats()
		resp.Breaker = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// DrainQueue handles POST /v1/queue/drain by waking the worker.
func (h *Handler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, DrainResponse{Started: h.worker.Start()})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Health(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Queue store unavailable", "")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
