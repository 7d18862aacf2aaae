package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/amazon-rank-scraper/internal/jobs"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/queue"
)

// JobService is the part of jobs.Manager the handlers use.
type JobService interface {
	CreateJob(ctx context.Context, country string, keywords []string, maxProducts int) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// OutboxBacklog reports relay health; nil when events are disabled.
type OutboxBacklog interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	jobs   JobService
	outbox OutboxBacklog
	logger *slog.Logger
}

func NewHandlers(jobService JobService, outbox OutboxBacklog, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:   jobService,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

type CreateRunRequest struct {
	Country     string   `json:"country"`
	Keywords    []string `json:"keywords"`
	MaxProducts int      `json:"max_products"`
}

type CreateRunResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateRun queues a keyword run.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Country == "" {
		req.Country = "uk"
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Country, req.Keywords, req.MaxProducts)
	switch {
	case errors.Is(err, jobs.ErrInvalidJob):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, "run queue is not accepting work")
		return
	case err != nil:
		h.logger.Error("failed to create run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateRunResponse{
		RunID:   job.ID,
		Status:  string(job.Status),
		Message: "Run queued",
	})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), runID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

type Country struct {
	Code     string `json:"code"`
	Domain   string `json:"domain"`
	Currency string `json:"currency"`
	Language string `json:"language"`
}

func (h *Handlers) ListCountries(w http.ResponseWriter, r *http.Request) {
	codes := locale.Codes()
	countries := make([]Country, 0, len(codes))
	for _, code := range codes {
		loc := locale.MustLookup(code)
		countries = append(countries, Country{
			Code:     loc.Code,
			Domain:   loc.Domain,
			Currency: loc.Currency,
			Language: loc.Language,
		})
	}

	h.respondJSON(w, http.StatusOK, countries)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, dead, err := h.outbox.Backlog(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": dead,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
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
