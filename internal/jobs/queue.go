package jobs

import (
	"context"
	"time"
)

// EnqueueResult is returned by Queue.Enqueue. Deduplicated means no new job
// was created and JobID refers to the job that already covers the URL.
type EnqueueResult struct {
	JobID        string
	Deduplicated bool
}

// QueueStats is an operational snapshot of the queue.
type QueueStats struct {
	Pending          int           `json:"pending"`
	Processing       int           `json:"processing"`
	Done             int           `json:"done"`
	FailedRetry      int           `json:"failed_retry"`
	FailedPermanent  int           `json:"failed_permanent"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}

// Queue is the job queue contract.
//
// Enqueue deduplicates on the job's normalized URL: an active (pending,
// processing, or retry-scheduled) job for the same URL wins over a new one,
// as does a completed job whose content hash matches the payload.
//
// ClaimBatch must be atomic across concurrent callers: no two workers ever
// claim the same job. Terminal jobs are retained for the status API.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (EnqueueResult, error)
	ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, jobErr error) error
	Status(ctx context.Context, jobID string) (Job, error)
	Stats(ctx context.Context) (QueueStats, error)
}
