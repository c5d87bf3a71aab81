package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// MetadataRepo satisfies metadatamodel.Repository against a single
// key/value table: one row per metadata key, holding either a
// last-writer-wins value or an increment counter. Watermarks are not
// stored here; RuntimeStateRepo keeps them in runtime_state.
type MetadataRepo struct {
	db    *DB
	table string
}

// NewMetadataRepo builds a repository over table, expected to have
// columns (key text primary key, value text).
func NewMetadataRepo(db *DB, table string) *MetadataRepo {
	return &MetadataRepo{db: db, table: table}
}

// Find returns key's current value.
func (r *MetadataRepo) Find(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", r.table)
	var value string
	err := r.db.Read.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: find metadata %q: %w", key, err)
	}
	return value, true, nil
}

// FindMany bulk-looks-up every key in keys that exists in the table.
func (r *MetadataRepo) FindMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf("SELECT key, value FROM %s WHERE key IN (?)", r.table), keys)
	if err != nil {
		return nil, fmt.Errorf("postgres: expand find many metadata: %w", err)
	}
	query = r.db.Read.Rebind(query)

	rows, err := r.db.Read.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find many metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres: scan metadata row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// BulkUpsert writes every key/value pair in values, overwriting any
// existing row (last-writer-wins, matching the in-memory cache).
func (r *MetadataRepo) BulkUpsert(ctx context.Context, tx pgx.Tx, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		r.table,
	)
	batch := &pgx.Batch{}
	for k, v := range values {
		batch.Queue(query, k, v)
	}
	return sendBatch(ctx, tx, batch, len(values))
}

// AtomicAdd issues a server-side increment against key's current value,
// creating the row at delta if absent, so concurrent flushers never
// clobber one another's contribution.
func (r *MetadataRepo) AtomicAdd(ctx context.Context, tx pgx.Tx, key string, delta int64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2::text)
		ON CONFLICT (key) DO UPDATE SET value = (COALESCE(%s.value, '0')::bigint + $2)::text
	`, r.table, r.table)
	if _, err := tx.Exec(ctx, query, key, delta); err != nil {
		return fmt.Errorf("postgres: atomic add %q: %w", key, err)
	}
	return nil
}
