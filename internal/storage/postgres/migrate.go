package postgres

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/chainindex/internal/storage"
)

// Migrate applies every migration under dir (goose bookkeeping plus the
// runtime_state/metadata tables) against db's database/sql handle.
func Migrate(db *DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set goose dialect: %w", err)
	}
	if err := goose.Up(db.Read.DB, dir); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	return nil
}

// EnsureEntityTable creates schema's table if it does not already
// exist. Per-entity DDL lives alongside its Go type rather than as a
// hand-maintained migration, since the column set is already derived
// from the struct's `db` tags for every other repository operation.
func EnsureEntityTable[E any](ctx context.Context, db *DB, schema storage.Schema) error {
	ddl := storage.CreateTableSQL[E](schema)
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure table %s: %w", schema.Table, err)
	}
	return nil
}
