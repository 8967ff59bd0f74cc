// Package handler exposes the search HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mizuchi-search/mizuchi/internal/scorer"
	"github.com/mizuchi-search/mizuchi/internal/searcher/cache"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	"github.com/mizuchi-search/mizuchi/pkg/logger"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

// Searcher executes a query. Implemented by scorer.Scorer.
type Searcher interface {
	Search(ctx context.Context, query string, limit, page int, mode scorer.Mode) (scorer.Response, error)
}

type Handler struct {
	searcher Searcher
	cache    *cache.QueryCache
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires a search handler. queryCache may be nil; queries then always hit
// the scorer directly.
func New(s Searcher, queryCache *cache.QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		searcher: s,
		cache:    queryCache,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register attaches the search routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /admin/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /admin/cache/invalidate", h.CacheInvalidate)
}

// Search answers GET /search?q=...&limit=...&page=...&mode=....
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	mode, err := scorer.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "mode must be one of keyword, vector, hybrid")
		return
	}

	limit := h.cfg.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > h.cfg.MaxResults {
			parsed = h.cfg.MaxResults
		}
		limit = parsed
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		parsed, err := strconv.Atoi(pageStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = parsed
	}

	var resp scorer.Response
	cacheHit := false
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, query, string(mode), limit, page, func() (scorer.Response, error) {
			return h.searcher.Search(ctx, query, limit, page, mode)
		})
	} else {
		resp, err = h.searcher.Search(ctx, query, limit, page, mode)
	}
	if err != nil {
		log.Error("search failed", "query", query, "mode", mode, "error", err)
		h.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(string(mode)).Inc()
		h.metrics.SearchLatency.WithLabelValues(string(mode), cacheStatus).Observe(time.Since(start).Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(resp.Hits)))
		if cacheHit {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}

	log.Info("search completed",
		"query", query,
		"mode", mode,
		"total", resp.Total,
		"returned", len(resp.Hits),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// CacheStats answers GET /admin/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate answers POST /admin/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
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
