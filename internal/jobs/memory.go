package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
)

// MemoryQueue is an in-memory Queue used by tests. A single mutex gives
// ClaimBatch the same exclusivity the Postgres implementation gets from
// row locks.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	lease  time.Duration
	policy RetryPolicy
	now    func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(lease time.Duration, policy RetryPolicy) *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(map[string]*Job),
		lease:  lease,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the queue's time source so tests can step through
// lease expiry and retry backoff without sleeping.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload Payload) (EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := NewJob(payload)
	var doneMatch *Job
	for _, existing := range q.jobs {
		if existing.DocID != job.DocID {
			continue
		}
		switch existing.Status {
		case StatePending, StateProcessing, StateFailedRetry:
			return EnqueueResult{JobID: existing.ID, Deduplicated: true}, nil
		case StateDone:
			if existing.ContentHash == job.ContentHash {
				if doneMatch == nil || existing.UpdatedAt.After(doneMatch.UpdatedAt) {
					doneMatch = existing
				}
			}
		}
	}
	if doneMatch != nil {
		return EnqueueResult{JobID: doneMatch.ID, Deduplicated: true}, nil
	}

	job.CreatedAt = q.now()
	job.UpdatedAt = job.CreatedAt
	q.jobs[job.ID] = &job
	return EnqueueResult{JobID: job.ID}, nil
}

func (q *MemoryQueue) ClaimBatch(_ context.Context, workerID string, batchSize int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	candidates := make([]*Job, 0)
	for _, job := range q.jobs {
		if job.Claimable(now) {
			candidates = append(candidates, job)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	claimed := make([]Job, 0, len(candidates))
	for _, job := range candidates {
		job.Status = StateProcessing
		job.WorkerID = workerID
		job.LeaseExpiry = now.Add(q.lease)
		job.AttemptCount++
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (q *MemoryQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	if job.Status != StateProcessing {
		return fmt.Errorf("%w: job %s is not processing", apperrors.ErrJobNotFound, jobID)
	}
	job.Status = StateDone
	job.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, jobID string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	if job.Status != StateProcessing {
		return fmt.Errorf("%w: job %s is not processing", apperrors.ErrJobNotFound, jobID)
	}
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	now := q.now()
	job.Status = q.policy.NextStateAfterFailure(job.AttemptCount)
	if job.Status == StateFailedRetry {
		job.NextRetryAt = now.Add(q.policy.Delay(job.AttemptCount))
	}
	job.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Status(_ context.Context, jobID string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, apperrors.ErrJobNotFound
	}
	return *job, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats QueueStats
	now := q.now()
	var oldestPending time.Time
	for _, job := range q.jobs {
		switch job.Status {
		case StatePending:
			stats.Pending++
			if oldestPending.IsZero() || job.CreatedAt.Before(oldestPending) {
				oldestPending = job.CreatedAt
			}
		case StateProcessing:
			stats.Processing++
		case StateDone:
			stats.Done++
		case StateFailedRetry:
			stats.FailedRetry++
		case StateFailedPermanent:
			stats.FailedPermanent++
		}
	}
	if !oldestPending.IsZero() {
		stats.OldestPendingAge = now.Sub(oldestPending)
	}
	return stats, nil
}

var _ Queue = (*MemoryQueue)(nil)
