package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/knolan10/BBHBot/internal/types"
)

// PhotometryRecordRepository provides data access for the
// photometry_records table, the per-event state of the bulk retrieval
// pipeline.
//
// Schema:
//
//	CREATE TABLE photometry_records (
//	  event_id   TEXT PRIMARY KEY,
//	  record     JSONB NOT NULL,
//	  version    BIGINT NOT NULL DEFAULT 1,
//	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PhotometryRecordRepository struct {
	db DBTX
}

// NewPhotometryRecordRepository creates a repository backed by the given
// connection.
func NewPhotometryRecordRepository(db DBTX) *PhotometryRecordRepository {
	return &PhotometryRecordRepository{db: db}
}

// Get returns the photometry record for an event, or nil when none exists.
func (r *PhotometryRecordRepository) Get(ctx context.Context, eventID string) (*types.PhotometryRecord, error) {
	var (
		raw     []byte
		version int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT record, version FROM photometry_records WHERE event_id = $1`,
		eventID,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query photometry record", err)
	}

	var rec types.PhotometryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode photometry record", err)
	}
	rec.Version = version
	return &rec, nil
}

// Create inserts a new photometry record; inserting an existing event ID is
// a no-op so alert redelivery stays idempotent.
func (r *PhotometryRecordRepository) Create(ctx context.Context, rec *types.PhotometryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode photometry record", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO photometry_records (event_id, record, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID,
		raw,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert photometry record", err)
	}
	rec.Version = 1
	return nil
}

// Update persists the record via compare-and-set on its version.
func (r *PhotometryRecordRepository) Update(ctx context.Context, rec *types.PhotometryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode photometry record", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE photometry_records
		 SET record = $2, version = version + 1, updated_at = NOW()
		 WHERE event_id = $1 AND version = $3`,
		rec.EventID,
		raw,
		rec.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update photometry record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConsistencyStaleRecord,
			"photometry record version conflict for "+rec.EventID, nil)
	}
	rec.Version++
	return nil
}

// ListActive returns records still inside the observability window
// (Over200Days=false), ordered by event ID.
func (r *PhotometryRecordRepository) ListActive(ctx context.Context) ([]types.PhotometryRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT record, version FROM photometry_records
		 WHERE record->>'over_200_days' = 'false'
		 ORDER BY event_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active photometry records", err)
	}
	defer rows.Close()

	var records []types.PhotometryRecord
	for rows.Next() {
		var (
			raw     []byte
			version int64
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan photometry record", err)
		}
		var rec types.PhotometryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode photometry record", err)
		}
		rec.Version = version
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating photometry records", err)
	}
	return records, nil
}
