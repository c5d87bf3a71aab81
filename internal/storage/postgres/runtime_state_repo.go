package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RuntimeStateRepo satisfies controller.WatermarkRepo against the
// runtime_state table: one row per run id, overwritten on every flush.
type RuntimeStateRepo struct {
	db *DB
}

// NewRuntimeStateRepo builds a repository over the runtime_state table.
func NewRuntimeStateRepo(db *DB) *RuntimeStateRepo {
	return &RuntimeStateRepo{db: db}
}

// Upsert writes the current watermarks for runID.
func (r *RuntimeStateRepo) Upsert(ctx context.Context, tx pgx.Tx, runID string, processed, buffered, finalised uint64) error {
	query := `
		INSERT INTO runtime_state (run_id, latest_processed_height, latest_buffered_height, latest_finalised_height, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (run_id) DO UPDATE SET
			latest_processed_height = EXCLUDED.latest_processed_height,
			latest_buffered_height  = EXCLUDED.latest_buffered_height,
			latest_finalised_height = EXCLUDED.latest_finalised_height,
			updated_at              = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, query, runID, int64(processed), int64(buffered), int64(finalised)); err != nil {
		return fmt.Errorf("postgres: upsert runtime state %q: %w", runID, err)
	}
	return nil
}

// Load reads the persisted watermarks for runID, if a row exists.
func (r *RuntimeStateRepo) Load(ctx context.Context, runID string) (processed, buffered, finalised uint64, found bool, err error) {
	query := `
		SELECT latest_processed_height, latest_buffered_height, latest_finalised_height
		FROM runtime_state WHERE run_id = $1
	`
	var p, b, f int64
	row := r.db.Pool.QueryRow(ctx, query, runID)
	err = row.Scan(&p, &b, &f)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("postgres: load runtime state %q: %w", runID, err)
	}
	return uint64(p), uint64(b), uint64(f), true, nil
}
