package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/postgres"
)

// PostgresQueue is the durable Queue. Claiming relies on
// FOR UPDATE SKIP LOCKED so concurrent workers partition the claimable set
// instead of blocking on or double-claiming the same rows.
//
// Required table:
//
//	CREATE TABLE index_jobs (
//	    job_id        TEXT PRIMARY KEY,
//	    doc_id        TEXT NOT NULL,
//	    url           TEXT NOT NULL,
//	    title         TEXT NOT NULL DEFAULT '',
//	    content       TEXT NOT NULL,
//	    outlinks      TEXT[] NOT NULL DEFAULT '{}',
//	    content_hash  TEXT NOT NULL,
//	    status        TEXT NOT NULL DEFAULT 'pending',
//	    attempt_count INT NOT NULL DEFAULT 0,
//	    lease_expiry  TIMESTAMPTZ,
//	    next_retry_at TIMESTAMPTZ,
//	    last_error    TEXT NOT NULL DEFAULT '',
//	    worker_id     TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX index_jobs_claim_idx ON index_jobs (status, next_retry_at, lease_expiry);
//	CREATE INDEX index_jobs_doc_idx ON index_jobs (doc_id);
type PostgresQueue struct {
	db     *postgres.Client
	lease  time.Duration
	policy RetryPolicy
	logger *slog.Logger
}

// NewPostgresQueue creates a PostgresQueue.
func NewPostgresQueue(db *postgres.Client, lease time.Duration, policy RetryPolicy) *PostgresQueue {
	return &PostgresQueue{
		db:     db,
		lease:  lease,
		policy: policy,
		logger: slog.Default().With("component", "job-queue"),
	}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, payload Payload) (EnqueueResult, error) {
	job := NewJob(payload)
	var result EnqueueResult
	err := q.db.InTx(ctx, func(tx *sql.Tx) error {
		// Serialize enqueues for the same document so racing submissions
		// cannot both pass the dedupe check.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, job.DocID); err != nil {
			return fmt.Errorf("locking document %s: %w", job.DocID, err)
		}

		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT job_id FROM index_jobs
			WHERE doc_id = $1 AND status IN ('pending', 'processing', 'failed_retry')
			ORDER BY created_at LIMIT 1`, job.DocID,
		).Scan(&existingID)
		if err == nil {
			result = EnqueueResult{JobID: existingID, Deduplicated: true}
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking active jobs for %s: %w", job.DocID, err)
		}

		// Identical content that already made it through the pipeline
		// needs no new job.
		err = tx.QueryRowContext(ctx, `
			SELECT job_id FROM index_jobs
			WHERE doc_id = $1 AND status = 'done' AND content_hash = $2
			ORDER BY updated_at DESC LIMIT 1`, job.DocID, job.ContentHash,
		).Scan(&existingID)
		if err == nil {
			result = EnqueueResult{JobID: existingID, Deduplicated: true}
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking done jobs for %s: %w", job.DocID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO index_jobs (job_id, doc_id, url, title, content, outlinks, content_hash, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $8)`,
			job.ID, job.DocID, job.Payload.URL, job.Payload.Title, job.Payload.Content,
			pq.Array(job.Payload.Outlinks), job.ContentHash, job.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting job for %s: %w", job.DocID, err)
		}
		result = EnqueueResult{JobID: job.ID}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	return result, nil
}

const jobColumns = `job_id, doc_id, url, title, content, outlinks, content_hash,
	status, attempt_count, COALESCE(lease_expiry, 'epoch'), COALESCE(next_retry_at, 'epoch'),
	last_error, worker_id, created_at, updated_at`

func scanJob(scan func(...any) error) (Job, error) {
	var job Job
	var status string
	var outlinks pq.StringArray
	err := scan(&job.ID, &job.DocID, &job.Payload.URL, &job.Payload.Title, &job.Payload.Content,
		&outlinks, &job.ContentHash, &status, &job.AttemptCount,
		&job.LeaseExpiry, &job.NextRetryAt, &job.LastError, &job.WorkerID,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	job.Payload.Outlinks = outlinks
	job.Status = State(status)
	return job, nil
}

func (q *PostgresQueue) ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]Job, error) {
	rows, err := q.db.DB.QueryContext(ctx, `
		WITH candidates AS (
			SELECT job_id FROM index_jobs
			WHERE status = 'pending'
			   OR (status = 'failed_retry' AND next_retry_at <= NOW())
			   OR (status = 'processing' AND lease_expiry <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE index_jobs j SET
			status = 'processing',
			worker_id = $1,
			lease_expiry = NOW() + $3 * INTERVAL '1 second',
			attempt_count = j.attempt_count + 1,
			updated_at = NOW()
		FROM candidates c
		WHERE j.job_id = c.job_id
		RETURNING `+jobColumns,
		workerID, batchSize, q.lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	defer rows.Close()

	var claimed []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed job: %w", err)
		}
		claimed = append(claimed, job)
	}
	return claimed, rows.Err()
}

func (q *PostgresQueue) Complete(ctx context.Context, jobID string) error {
	res, err := q.db.DB.ExecContext(ctx, `
		UPDATE index_jobs SET status = 'done', updated_at = NOW()
		WHERE job_id = $1 AND status = 'processing'`, jobID)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s is not processing", apperrors.ErrJobNotFound, jobID)
	}
	return nil
}

func (q *PostgresQueue) Fail(ctx context.Context, jobID string, jobErr error) error {
	message := ""
	if jobErr != nil {
		message = jobErr.Error()
	}
	return q.db.InTx(ctx, func(tx *sql.Tx) error {
		var attempt int
		err := tx.QueryRowContext(ctx, `
			SELECT attempt_count FROM index_jobs
			WHERE job_id = $1 AND status = 'processing'
			FOR UPDATE`, jobID,
		).Scan(&attempt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: job %s is not processing", apperrors.ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("loading job %s: %w", jobID, err)
		}

		next := q.policy.NextStateAfterFailure(attempt)
		if next == StateFailedRetry {
			delay := q.policy.Delay(attempt)
			_, err = tx.ExecContext(ctx, `
				UPDATE index_jobs SET
					status = 'failed_retry',
					next_retry_at = NOW() + $2 * INTERVAL '1 second',
					last_error = $3,
					updated_at = NOW()
				WHERE job_id = $1`,
				jobID, delay.Seconds(), message,
			)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE index_jobs SET
					status = 'failed_permanent',
					last_error = $2,
					updated_at = NOW()
				WHERE job_id = $1`,
				jobID, message,
			)
			q.logger.Warn("job failed permanently", "job_id", jobID, "attempts", attempt, "error", message)
		}
		if err != nil {
			return fmt.Errorf("failing job %s: %w", jobID, err)
		}
		return nil
	})
}

func (q *PostgresQueue) Status(ctx context.Context, jobID string) (Job, error) {
	row := q.db.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM index_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return Job{}, apperrors.ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return job, nil
}

func (q *PostgresQueue) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	rows, err := q.db.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM index_jobs GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scanning job counts: %w", err)
		}
		switch State(status) {
		case StatePending:
			stats.Pending = count
		case StateProcessing:
			stats.Processing = count
		case StateDone:
			stats.Done = count
		case StateFailedRetry:
			stats.FailedRetry = count
		case StateFailedPermanent:
			stats.FailedPermanent = count
		}
	}
	if err := rows.Err(); err != nil {
		return QueueStats{}, err
	}

	var oldest sql.NullTime
	err = q.db.DB.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM index_jobs WHERE status = 'pending'`).Scan(&oldest)
	if err != nil {
		return QueueStats{}, fmt.Errorf("finding oldest pending job: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAge = time.Since(oldest.Time)
	}
	return stats, nil
}

var _ Queue = (*PostgresQueue)(nil)
