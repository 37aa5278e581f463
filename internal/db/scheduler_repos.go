package db

import (
	"context"
	"time"

	"curbsight/internal/types"
)

// JobLockRepository provides distributed locking over the job_locks table so
// scheduled tasks run at most once per window even when several workers fire.
// Acquisition is a single INSERT ... ON CONFLICT DO UPDATE, atomic on the
// lock id.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a JobLockRepository over the given connection.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to take the lock. Returns true when acquired, false when
// another worker holds an unexpired lock. The lockID is conventionally
// "task:timestamp_hour" (e.g. "evaluate_compliance:2026-08-28T14").
//
// expires_at is computed in Go as a concrete timestamp; Go duration strings
// are not valid PostgreSQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// One row affected means the insert succeeded or an expired lock was
	// reclaimed; zero means another worker still holds it.
	return tag.RowsAffected() > 0, nil
}

// JobHistoryRepository records scheduled task executions in the job_history
// table for operational visibility.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a JobHistoryRepository over the given
// connection.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running job_history row and returns its id for the later
// Finish call.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes a job_history row with the final status ('success' or
// 'failed'), processed item count, and the error message when one occurred.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// DeleteFinishedBefore removes finished job_history rows older than cutoff,
// returning the number deleted. Running rows are kept regardless of age so a
// crashed run stays visible.
func (r *JobHistoryRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_history
		 WHERE finished_at IS NOT NULL AND finished_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune job history", err)
	}
	return tag.RowsAffected(), nil
}
