// File: internal/statusapi/handlers.go
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/sitememory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrQueueFull is returned by a SubmitFunc when no more tasks can be accepted.
var ErrQueueFull = errors.New("task queue is full")

// SubmitFunc hands a task to the engine.
type SubmitFunc func(ctx context.Context, task schemas.ApplicationTask) error

// ChannelSubmitter returns a SubmitFunc that enqueues on ch without blocking.
func ChannelSubmitter(ch chan<- schemas.ApplicationTask) SubmitFunc {
	return func(ctx context.Context, task schemas.ApplicationTask) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case ch <- task:
			return nil
		default:
			return ErrQueueFull
		}
	}
}

// OutcomeReader reads persisted outcomes. *store.Store satisfies it.
type OutcomeReader interface {
	GetOutcomesByTaskID(ctx context.Context, taskID string) ([]schemas.ApplicationOutcome, error)
}

// SiteStatsReader reports per-origin site memory counters. *sitememory.Memory
// satisfies it.
type SiteStatsReader interface {
	Stats(origin string) sitememory.Stats
}

// Handlers serves the status API.
type Handlers struct {
	log      *zap.Logger
	registry *Registry
	submit   SubmitFunc
	outcomes OutcomeReader
	sites    SiteStatsReader
}

// NewHandlers creates a new Handlers instance. submit, outcomes and sites may
// be nil, which disables task submission, outcome history and site stats.
func NewHandlers(logger *zap.Logger, registry *Registry, submit SubmitFunc, outcomes OutcomeReader, sites SiteStatsReader) *Handlers {
	return &Handlers{
		log:      logger.Named("status_handlers"),
		registry: registry,
		submit:   submit,
		outcomes: outcomes,
		sites:    sites,
	}
}

// RegisterRoutes sets up the routing for the status API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Get("/", h.HandleListTasks)
		r.Post("/", h.HandleSubmitTask)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", h.HandleGetTask)
			r.Get("/progress", h.HandleGetProgress)
			r.Post("/cancel", h.HandleCancelTask)
			r.Get("/outcomes", h.HandleGetOutcomes)
		})
	})
	r.Get("/api/v1/sites/stats", h.HandleGetSiteStats)
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	jobs := h.registry.List()
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"tasks": jobs,
	})
}

// HandleSubmitTask queues a new application task.
func (h *Handlers) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if h.submit == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Task submission is not enabled on this server.")
		return
	}

	var task schemas.ApplicationTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(task.TargetURL) == "" {
		h.respondWithError(w, http.StatusBadRequest, "target_url is required.")
		return
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if job, exists := h.registry.Get(task.ID); exists && !job.Status.Finished() {
		h.respondWithError(w, http.StatusConflict, fmt.Sprintf("Task %s is already queued or running.", task.ID))
		return
	}

	job := h.registry.Register(task)
	if err := h.submit(r.Context(), task); err != nil {
		h.registry.Forget(task.ID)
		h.log.Warn("Failed to queue task", zap.String("task_id", task.ID), zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to queue task: %v", err))
		return
	}

	h.log.Info("Task queued", zap.String("task_id", task.ID), zap.String("target", task.TargetURL))
	h.respondWithStatus(w, http.StatusAccepted, "accepted", job)
}

func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	job, exists := h.registry.Get(taskID)
	if !exists {
		h.respondWithError(w, http.StatusNotFound, "Task ID not found in active/recent task registry.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, job)
}

func (h *Handlers) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	updates, exists := h.registry.Progress(taskID)
	if !exists {
		h.respondWithError(w, http.StatusNotFound, "Task ID not found in active/recent task registry.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":    len(updates),
		"progress": updates,
	})
}

func (h *Handlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	switch err := h.registry.Cancel(taskID); {
	case errors.Is(err, ErrUnknownTask):
		h.respondWithError(w, http.StatusNotFound, "Task ID not found in active/recent task registry.")
	case errors.Is(err, ErrTaskFinished):
		h.respondWithError(w, http.StatusConflict, "Task has already finished.")
	case err != nil:
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		h.respondWithStatus(w, http.StatusAccepted, "accepted", map[string]string{"task_id": taskID})
	}
}

// HandleGetOutcomes returns every persisted attempt for a task.
func (h *Handlers) HandleGetOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Outcome history is unavailable (database not configured or connected).")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	outcomes, err := h.outcomes.GetOutcomesByTaskID(r.Context(), taskID)
	if err != nil {
		h.log.Error("Failed to query outcomes", zap.String("task_id", taskID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving outcomes.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":    len(outcomes),
		"outcomes": outcomes,
	})
}

// HandleGetSiteStats reports what site memory holds for the origin of the
// "url" query parameter. Origins never seen report zero counters.
func (h *Handlers) HandleGetSiteStats(w http.ResponseWriter, r *http.Request) {
	if h.sites == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Site memory is not available on this server.")
		return
	}
	raw := r.URL.Query().Get("url")
	if strings.TrimSpace(raw) == "" {
		h.respondWithError(w, http.StatusBadRequest, "url query parameter is required.")
		return
	}
	origin, err := sitememory.Origin(raw)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid url: %v", err))
		return
	}
	h.respondWithSuccess(w, http.StatusOK, h.sites.Stats(origin))
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.write(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	h.write(w, statusCode, Response{Status: status, Data: data})
}

func (h *Handlers) write(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
