package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mizuchi-search/mizuchi/pkg/config"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

// Engine periodically recomputes document and domain PageRank snapshots.
type Engine struct {
	store   Store
	cfg     config.PageRankConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates a PageRank engine over the given store.
func NewEngine(store Store, cfg config.PageRankConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "pagerank"),
	}
}

func (e *Engine) options() Options {
	opts := DefaultOptions()
	if e.cfg.Damping > 0 {
		opts.Damping = e.cfg.Damping
	}
	if e.cfg.Epsilon > 0 {
		opts.Epsilon = e.cfg.Epsilon
	}
	if e.cfg.MaxIterations > 0 {
		opts.MaxIterations = e.cfg.MaxIterations
	}
	return opts
}

// RunOnce computes document PageRank over the current graph snapshot and
// swaps in the max-normalized result.
func (e *Engine) RunOnce(ctx context.Context) error {
	start := time.Now()
	adjacency, err := e.store.Adjacency(ctx)
	if err != nil {
		e.metrics.PageRankRunsTotal.WithLabelValues("document", "error").Inc()
		return fmt.Errorf("loading link graph: %w", err)
	}

	result := Compute(adjacency, e.options())
	if err := e.store.SaveRanks(ctx, MaxNormalize(result.Ranks)); err != nil {
		e.metrics.PageRankRunsTotal.WithLabelValues("document", "error").Inc()
		return fmt.Errorf("saving rank snapshot: %w", err)
	}

	e.metrics.PageRankRunsTotal.WithLabelValues("document", "ok").Inc()
	e.metrics.PageRankIterations.Observe(float64(result.Iterations))
	e.logger.Info("pagerank snapshot updated",
		"nodes", len(result.Ranks),
		"iterations", result.Iterations,
		"converged", result.Converged,
		"duration", time.Since(start),
	)
	return nil
}

// RunDomainOnce computes domain-level PageRank over the cross-domain graph.
func (e *Engine) RunDomainOnce(ctx context.Context) error {
	start := time.Now()
	adjacency, err := e.store.DomainAdjacency(ctx)
	if err != nil {
		e.metrics.PageRankRunsTotal.WithLabelValues("domain", "error").Inc()
		return fmt.Errorf("loading domain graph: %w", err)
	}

	result := Compute(adjacency, e.options())
	if err := e.store.SaveDomainRanks(ctx, MaxNormalize(result.Ranks)); err != nil {
		e.metrics.PageRankRunsTotal.WithLabelValues("domain", "error").Inc()
		return fmt.Errorf("saving domain rank snapshot: %w", err)
	}

	e.metrics.PageRankRunsTotal.WithLabelValues("domain", "ok").Inc()
	e.logger.Info("domain pagerank snapshot updated",
		"domains", len(result.Ranks),
		"iterations", result.Iterations,
		"duration", time.Since(start),
	)
	return nil
}

// Start launches the periodic recompute loops. They stop when ctx is
// cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx, e.cfg.Interval, "document", e.RunOnce)
	go e.loop(ctx, e.cfg.DomainInterval, "domain", e.RunDomainOnce)
	e.logger.Info("pagerank loops started",
		"interval", e.cfg.Interval,
		"domain_interval", e.cfg.DomainInterval,
	)
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, scope string, run func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := run(ctx); err != nil {
				e.logger.Error("pagerank run failed", "scope", scope, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
