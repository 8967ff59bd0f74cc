package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mizuchi-search/mizuchi/internal/jobs"
	"github.com/mizuchi-search/mizuchi/pkg/kafka"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

// Consumer bridges the page-ingest Kafka topic to the job queue. Crawler
// submissions arriving over Kafka go through the same validation and dedupe
// path as HTTP submissions.
type Consumer struct {
	queue   jobs.Queue
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewConsumer creates the Kafka-side ingestion consumer.
func NewConsumer(queue jobs.Queue, m *metrics.Metrics) *Consumer {
	return &Consumer{
		queue:   queue,
		metrics: m,
		logger:  slog.Default().With("component", "ingest-consumer"),
	}
}

// Handle processes one page-ingest message. Validation failures are logged
// and committed rather than returned: a malformed message would never
// succeed on redelivery.
func (c *Consumer) Handle(ctx context.Context, key []byte, value []byte) error {
	req, err := kafka.DecodeJSON[IngestRequest](value)
	if err != nil {
		c.logger.Warn("dropping undecodable message", "key", string(key), "error", err)
		return nil
	}

	normalizedURL, err := Validate(&req)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			c.logger.Warn("dropping invalid submission", "url", req.URL, "fields", validationErr.Fields)
			return nil
		}
		return err
	}

	result, err := c.queue.Enqueue(ctx, jobs.Payload{
		URL:      normalizedURL,
		Title:    req.Title,
		Content:  req.Content,
		Outlinks: req.Outlinks,
	})
	if err != nil {
		// Storage errors are transient; leave the message uncommitted.
		return err
	}

	outcome := "created"
	if result.Deduplicated {
		outcome = "deduplicated"
	}
	c.metrics.JobsEnqueuedTotal.WithLabelValues(outcome).Inc()
	c.logger.Debug("document accepted from kafka", "url", normalizedURL, "job_id", result.JobID)
	return nil
}
