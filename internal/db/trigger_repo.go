package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/knolan10/BBHBot/internal/types"
)

// TriggerRecordRepository provides data access for the trigger_records
// table. One row exists per event ID; rows are never deleted so the table
// doubles as the trigger audit trail.
//
// Schema:
//
//	CREATE TABLE trigger_records (
//	  event_id   TEXT PRIMARY KEY,
//	  record     JSONB NOT NULL,
//	  version    BIGINT NOT NULL DEFAULT 1,
//	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type TriggerRecordRepository struct {
	db DBTX
}

// NewTriggerRecordRepository creates a repository backed by the given
// connection (pool or transaction).
func NewTriggerRecordRepository(db DBTX) *TriggerRecordRepository {
	return &TriggerRecordRepository{db: db}
}

// Get returns the trigger record for an event, or nil when none exists.
func (r *TriggerRecordRepository) Get(ctx context.Context, eventID string) (*types.TriggerRecord, error) {
	var (
		raw     []byte
		version int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT record, version FROM trigger_records WHERE event_id = $1`,
		eventID,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query trigger record", err)
	}

	var rec types.TriggerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode trigger record", err)
	}
	rec.Version = version
	return &rec, nil
}

// Create inserts a new trigger record with version 1. Inserting an event ID
// that already exists is a consistency error: records are created exactly
// once, at the first successful trigger decision.
func (r *TriggerRecordRepository) Create(ctx context.Context, rec *types.TriggerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode trigger record", err)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO trigger_records (event_id, record, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID,
		raw,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert trigger record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConsistencyStaleRecord,
			"trigger record already exists for "+rec.EventID, nil)
	}
	rec.Version = 1
	return nil
}

// Update persists the record via compare-and-set on its version. Returns a
// consistency error when the stored version moved underneath the caller;
// the caller should re-read and re-apply.
func (r *TriggerRecordRepository) Update(ctx context.Context, rec *types.TriggerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode trigger record", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE trigger_records
		 SET record = $2, version = version + 1, updated_at = NOW()
		 WHERE event_id = $1 AND version = $3`,
		rec.EventID,
		raw,
		rec.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update trigger record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConsistencyStaleRecord,
			"trigger record version conflict for "+rec.EventID, nil)
	}
	rec.Version++
	return nil
}

// ListValid returns all records with Valid=true, ordered by event ID. The
// cadence pass walks this set daily.
func (r *TriggerRecordRepository) ListValid(ctx context.Context) ([]types.TriggerRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT record, version FROM trigger_records
		 WHERE record->>'valid' = 'true'
		 ORDER BY event_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query valid trigger records", err)
	}
	defer rows.Close()

	var records []types.TriggerRecord
	for rows.Next() {
		var (
			raw     []byte
			version int64
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan trigger record", err)
		}
		var rec types.TriggerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode trigger record", err)
		}
		rec.Version = version
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating trigger records", err)
	}
	return records, nil
}
