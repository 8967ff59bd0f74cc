// Package worker runs the indexing worker pool. Workers poll the job queue,
// claim batches, and push each document through the pipeline: tokenize,
// reindex, embed, update the link graph. The pool is the boundary that turns
// component failures into job-state transitions; no error escapes a job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mizuchi-search/mizuchi/internal/analyzer"
	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/internal/jobs"
	"github.com/mizuchi-search/mizuchi/internal/urlnorm"
	"github.com/mizuchi-search/mizuchi/internal/vector"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/kafka"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
	"github.com/mizuchi-search/mizuchi/pkg/tracing"
)

// EventPublisher publishes index-complete events. Satisfied by
// kafka.Producer; nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// IndexCompleteEvent is emitted after a document is successfully indexed.
type IndexCompleteEvent struct {
	JobID     string    `json:"job_id"`
	DocID     string    `json:"doc_id"`
	URL       string    `json:"url"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Pool runs N independent workers over a shared job queue.
type Pool struct {
	cfg      config.IndexerConfig
	queue    jobs.Queue
	store    index.Store
	analyzer *analyzer.Analyzer
	graph    graph.Store
	vectors  *vector.Store
	embedder vector.Embedder
	producer EventPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPool wires a worker pool. embedder and producer may be nil; vector
// updates and event publishing are then skipped.
func NewPool(
	cfg config.IndexerConfig,
	queue jobs.Queue,
	store index.Store,
	an *analyzer.Analyzer,
	graphStore graph.Store,
	vectors *vector.Store,
	embedder vector.Embedder,
	producer EventPublisher,
	m *metrics.Metrics,
) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		store:    store,
		analyzer: an,
		graph:    graphStore,
		vectors:  vectors,
		embedder: embedder,
		producer: producer,
		metrics:  m,
		logger:   slog.Default().With("component", "worker-pool"),
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	p.logger.Info("worker pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}

		claimed, err := p.queue.ClaimBatch(ctx, workerID, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("claim failed", "error", err)
			}
			continue
		}
		for _, job := range claimed {
			p.metrics.JobsClaimedTotal.Inc()
			p.handleJob(ctx, logger, job)
		}
	}
}

func (p *Pool) handleJob(ctx context.Context, logger *slog.Logger, job jobs.Job) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "process-job", job.ID)
	span.SetAttr("doc_id", job.DocID)

	err := p.processJob(ctx, job)
	span.End()
	p.metrics.JobProcessingSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if failErr := p.queue.Fail(ctx, job.ID, err); failErr != nil {
			logger.Error("failing job also failed", "job_id", job.ID, "error", failErr)
			return
		}
		kind := "retry"
		if status, statusErr := p.queue.Status(ctx, job.ID); statusErr == nil && status.Status == jobs.StateFailedPermanent {
			kind = "permanent"
		}
		p.metrics.JobsFailedTotal.WithLabelValues(kind).Inc()
		logger.Warn("job failed", "job_id", job.ID, "doc_id", job.DocID, "attempt", job.AttemptCount, "error", err)
		return
	}

	if completeErr := p.queue.Complete(ctx, job.ID); completeErr != nil {
		logger.Error("completing job failed", "job_id", job.ID, "error", completeErr)
		return
	}
	p.metrics.JobsCompletedTotal.Inc()
	logger.Info("job done", "job_id", job.ID, "doc_id", job.DocID, "duration", time.Since(start))

	if p.producer != nil {
		event := IndexCompleteEvent{
			JobID:     job.ID,
			DocID:     job.DocID,
			URL:       job.Payload.URL,
			IndexedAt: time.Now().UTC(),
		}
		if pubErr := p.producer.Publish(ctx, kafka.Event{Key: job.DocID, Value: event}); pubErr != nil {
			// The document is indexed either way; downstream consumers
			// catch up on the next event.
			logger.Warn("publishing index-complete event failed", "job_id", job.ID, "error", pubErr)
		}
	}
}

// processJob runs the indexing pipeline for one claimed job.
func (p *Pool) processJob(ctx context.Context, job jobs.Job) error {
	titleTokens := p.analyzer.Analyze(job.Payload.Title)
	bodyTokens := p.analyzer.Analyze(job.Payload.Content)

	doc := index.Document{
		DocID:       job.DocID,
		URL:         job.Payload.URL,
		Title:       job.Payload.Title,
		Domain:      urlnorm.Domain(job.Payload.URL),
		Content:     job.Payload.Content,
		ContentHash: job.ContentHash,
	}
	if err := p.store.ReindexDocument(ctx, doc, titleTokens, bodyTokens); err != nil {
		return fmt.Errorf("reindexing %s: %w", job.DocID, err)
	}
	p.metrics.DocsIndexedTotal.Inc()

	p.updateEmbedding(ctx, job)

	if err := p.updateLinks(ctx, job); err != nil {
		return err
	}
	return nil
}

// updateEmbedding requests a vector for the document. Provider failure is a
// degraded condition: the job still completes and the document stays
// keyword-searchable.
func (p *Pool) updateEmbedding(ctx context.Context, job jobs.Job) {
	if p.embedder == nil || p.vectors == nil {
		p.metrics.EmbeddingsTotal.WithLabelValues("skipped").Inc()
		return
	}
	text := job.Payload.Title + "\n" + job.Payload.Content
	embedding, err := p.embedder.Embed(ctx, text)
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperrors.ErrProviderUnavailable) {
			outcome = "skipped"
		}
		p.metrics.EmbeddingsTotal.WithLabelValues(outcome).Inc()
		p.logger.Warn("embedding skipped", "doc_id", job.DocID, "error", err)
		return
	}
	if err := p.vectors.Upsert(ctx, job.DocID, embedding); err != nil {
		p.metrics.EmbeddingsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("embedding upsert failed", "doc_id", job.DocID, "error", err)
		return
	}
	p.metrics.EmbeddingsTotal.WithLabelValues("ok").Inc()
}

// updateLinks resolves the job's raw outlinks and replaces the document's
// edges in the link graph.
func (p *Pool) updateLinks(ctx context.Context, job jobs.Job) error {
	targets := make([]string, 0, len(job.Payload.Outlinks))
	seen := make(map[string]struct{}, len(job.Payload.Outlinks))
	for _, link := range job.Payload.Outlinks {
		normalized, ok := urlnorm.Resolve(job.Payload.URL, link)
		if !ok {
			continue
		}
		target := urlnorm.DocID(normalized)
		if target == job.DocID {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	if err := p.graph.ReplaceOutlinks(ctx, job.DocID, targets); err != nil {
		return fmt.Errorf("updating link graph for %s: %w", job.DocID, err)
	}
	return nil
}
