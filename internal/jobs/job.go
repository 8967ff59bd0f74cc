// Package jobs implements the durable ingestion job queue. Jobs move through
// a small state machine; claiming uses leases so work owned by a crashed
// worker is reclaimed once its lease lapses. The state transition rules live
// in pure functions here, with PostgresQueue and MemoryQueue supplying
// storage.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/mizuchi-search/mizuchi/internal/urlnorm"
)

// State is a job's position in the lifecycle.
type State string

const (
	StatePending         State = "pending"
	StateProcessing      State = "processing"
	StateDone            State = "done"
	StateFailedRetry     State = "failed_retry"
	StateFailedPermanent State = "failed_permanent"
)

// Terminal reports whether a job in this state will never run again.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailedPermanent
}

// Payload is the ingestion request carried by a job. URL must already be
// normalized.
type Payload struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Outlinks []string `json:"outlinks"`
}

// ContentHash returns the digest used for identical-content dedupe.
func (p Payload) ContentHash() string {
	sum := sha256.Sum256([]byte(p.Title + "\x00" + p.Content))
	return hex.EncodeToString(sum[:])
}

// Job is one ingestion unit of work.
type Job struct {
	ID           string
	DocID        string
	Payload      Payload
	ContentHash  string
	Status       State
	AttemptCount int
	LeaseExpiry  time.Time
	NextRetryAt  time.Time
	LastError    string
	WorkerID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob builds a pending job for the given payload.
func NewJob(payload Payload) Job {
	now := time.Now().UTC()
	return Job{
		ID:          uuid.NewString(),
		DocID:       urlnorm.DocID(payload.URL),
		Payload:     payload,
		ContentHash: payload.ContentHash(),
		Status:      StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Claimable reports whether a worker may take the job at the given instant:
// pending jobs, retry jobs whose backoff has elapsed, and processing jobs
// whose lease has expired.
func (j Job) Claimable(now time.Time) bool {
	switch j.Status {
	case StatePending:
		return true
	case StateFailedRetry:
		return !j.NextRetryAt.After(now)
	case StateProcessing:
		return !j.LeaseExpiry.After(now)
	default:
		return false
	}
}

// RetryPolicy controls failure handling.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// Delay returns the backoff before the given attempt (1-based) runs again:
// min(base * 2^(attempt-1), max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Max {
			return p.Max
		}
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}

// NextStateAfterFailure decides where a failed attempt (1-based) goes.
func (p RetryPolicy) NextStateAfterFailure(attempt int) State {
	if attempt < p.MaxRetries {
		return StateFailedRetry
	}
	return StateFailedPermanent
}
