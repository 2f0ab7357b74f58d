package db

import (
	"context"
	"time"

	"github.com/knolan10/BBHBot/internal/types"
)

// JobLockRepository provides coarse locking via the job_locks table so the
// daily cadence and photometry passes never mutate records concurrently.
// Locking uses INSERT ... ON CONFLICT DO UPDATE to acquire atomically.
//
// Schema:
//
//	CREATE TABLE job_locks (
//	  id         TEXT PRIMARY KEY,
//	  worker_id  TEXT NOT NULL,
//	  locked_at  TIMESTAMPTZ NOT NULL,
//	  expires_at TIMESTAMPTZ NOT NULL
//	);
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a repository backed by the given connection.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to take the lock. Returns true if acquired, false if
// another worker holds it and it has not expired. Expiry is computed in Go
// as a concrete timestamp to avoid interval-format mismatches.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
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
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if this worker still holds it.
func (r *JobLockRepository) Release(ctx context.Context, lockID, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}
