package db

import (
	"context"
	"encoding/json"

	"github.com/knolan10/BBHBot/internal/types"
)

// BacklogRepository provides data access for the photometry_backlog table:
// batch requests deferred because the global in-flight ceiling was reached.
// Drained entries are moved to photometry_backlog_archive rather than
// deleted, preserving the audit trail.
//
// Schema:
//
//	CREATE TABLE photometry_backlog (
//	  id         BIGSERIAL PRIMARY KEY,
//	  event_id   TEXT NOT NULL,
//	  entry      JSONB NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE photometry_backlog_archive (LIKE photometry_backlog INCLUDING ALL);
type BacklogRepository struct {
	db DBTX
}

// NewBacklogRepository creates a repository backed by the given connection.
func NewBacklogRepository(db DBTX) *BacklogRepository {
	return &BacklogRepository{db: db}
}

// Append persists one deferred batch request and returns its assigned ID.
func (r *BacklogRepository) Append(ctx context.Context, entry *types.QueueEntry) (int64, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode backlog entry", err)
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO photometry_backlog (event_id, entry)
		 VALUES ($1, $2)
		 RETURNING id`,
		entry.EventID,
		raw,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to append backlog entry", err)
	}
	entry.ID = id
	return id, nil
}

// ListOldestFirst returns all backlog entries in creation order. The drain
// path processes them front to back so no entry starves.
func (r *BacklogRepository) ListOldestFirst(ctx context.Context) ([]types.QueueEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, entry, created_at FROM photometry_backlog
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query backlog entries", err)
	}
	defer rows.Close()

	var entries []types.QueueEntry
	for rows.Next() {
		var (
			id  int64
			raw []byte
			e   types.QueueEntry
		)
		if err := rows.Scan(&id, &raw, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan backlog entry", err)
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode backlog entry", err)
		}
		e.ID = id
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating backlog entries", err)
	}
	return entries, nil
}

// Archive atomically moves a drained entry into the archive table. The
// single-statement CTE keeps the move atomic without an explicit
// transaction.
func (r *BacklogRepository) Archive(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`WITH moved AS (
		   DELETE FROM photometry_backlog WHERE id = $1
		   RETURNING id, event_id, entry, created_at
		 )
		 INSERT INTO photometry_backlog_archive (id, event_id, entry, created_at)
		 SELECT id, event_id, entry, created_at FROM moved`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive backlog entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConsistencyStaleRecord,
			"backlog entry already drained", nil)
	}
	return nil
}
