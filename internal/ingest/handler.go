package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/internal/jobs"
	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/logger"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

// Handler serves the ingestion and job status endpoints.
type Handler struct {
	queue   jobs.Queue
	store   index.Store
	graph   graph.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates an ingestion Handler.
func NewHandler(queue jobs.Queue, store index.Store, graphStore graph.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		queue:   queue,
		store:   store,
		graph:   graphStore,
		metrics: m,
		logger:  slog.Default().With("component", "ingest-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest", h.Ingest)
	mux.HandleFunc("GET /jobs/", h.JobStatus)
	mux.HandleFunc("GET /admin/queue/stats", h.QueueStats)
	mux.HandleFunc("GET /admin/ranks/domains", h.DomainRanks)
	mux.HandleFunc("POST /admin/rebuild", h.Rebuild)
}

// Ingest validates a submission and enqueues an indexing job. Responds 202
// with the job ID; resubmissions of active or identical work come back with
// deduplicated=true.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	normalizedURL, err := Validate(&req)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.queue.Enqueue(ctx, jobs.Payload{
		URL:      normalizedURL,
		Title:    req.Title,
		Content:  req.Content,
		Outlinks: req.Outlinks,
	})
	if err != nil {
		log.Error("enqueue failed", "url", normalizedURL, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "enqueue failed")
		return
	}

	outcome := "created"
	if result.Deduplicated {
		outcome = "deduplicated"
	}
	h.metrics.JobsEnqueuedTotal.WithLabelValues(outcome).Inc()
	log.Info("document accepted", "url", normalizedURL, "job_id", result.JobID, "deduplicated", result.Deduplicated)
	h.writeJSON(w, http.StatusAccepted, IngestResponse{
		JobID:        result.JobID,
		Deduplicated: result.Deduplicated,
	})
}

// JobStatus serves GET /jobs/{job_id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		h.writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.queue.Status(r.Context(), jobID)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, JobStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
	})
}

// QueueStats serves an operational snapshot of the job queue.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"pending":                    stats.Pending,
		"processing":                 stats.Processing,
		"done":                       stats.Done,
		"failed_retry":               stats.FailedRetry,
		"failed_permanent":           stats.FailedPermanent,
		"oldest_pending_age_seconds": stats.OldestPendingAge.Seconds(),
	})
}

// DomainRanks serves the top domains of the latest domain rank snapshot.
func (h *Handler) DomainRanks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	ranks, err := h.graph.DomainRanks(r.Context(), limit)
	if err != nil {
		h.logger.Error("domain ranks query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "domain ranks unavailable")
		return
	}
	if ranks == nil {
		ranks = []graph.DomainRank{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"domains": ranks})
}

// Rebuild triggers a full recomputation of index statistics from postings.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if err := h.store.RebuildStats(r.Context()); err != nil {
		log.Error("stats rebuild failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	h.metrics.IndexRebuildsTotal.Inc()
	log.Info("index stats rebuilt")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
