package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/chainindex/internal/cache/entitymodel"
	"github.com/vietddude/chainindex/internal/storage"
)

// EntityRepo is the generic S1 repository satisfying
// entitymodel.Repository[E] for one Schema, live or historical.
type EntityRepo[E any] struct {
	db      *DB
	schema  storage.Schema
	columns []string // E's data columns, not including the PK column
}

// NewEntityRepo builds a repository for schema, deriving E's column list
// from its `db` struct tags.
func NewEntityRepo[E any](db *DB, schema storage.Schema) *EntityRepo[E] {
	return &EntityRepo[E]{db: db, schema: schema, columns: storage.Columns[E]()}
}

func (r *EntityRepo[E]) selectColumns() string {
	return r.schema.PKColumn + ", " + strings.Join(r.columns, ", ")
}

func (r *EntityRepo[E]) liveClause() string {
	if r.schema.Historical {
		return " AND upper_inf(block_range)"
	}
	return ""
}

func scanKeyed[E any](scanner interface{ Scan(...any) error }) (entitymodel.Keyed[E], error) {
	var out entitymodel.Keyed[E]
	rv := reflect.ValueOf(&out.Data).Elem()
	ptrs := make([]any, 0, rv.NumField()+1)
	ptrs = append(ptrs, &out.ID)
	for i := 0; i < rv.NumField(); i++ {
		if tag, ok := rv.Type().Field(i).Tag.Lookup("db"); !ok || tag == "-" {
			continue
		}
		ptrs = append(ptrs, rv.Field(i).Addr().Interface())
	}
	err := scanner.Scan(ptrs...)
	return out, err
}

// FindByPK returns the live row for id, or nil if absent.
func (r *EntityRepo[E]) FindByPK(ctx context.Context, id string) (*E, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1%s",
		r.selectColumns(), r.schema.Table, r.schema.PKColumn, r.liveClause())

	row := r.db.Read.QueryRowxContext(ctx, query, id)
	kv, err := scanKeyed[E](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find by pk on %s: %w", r.schema.Table, err)
	}
	return &kv.Data, nil
}

// FindAll returns rows matching field=value (field == "" matches any
// row), excluding excludeIDs, windowed by limit/offset. limit <= 0 means
// unbounded.
func (r *EntityRepo[E]) FindAll(ctx context.Context, field string, value any, excludeIDs []string, limit, offset int) ([]entitymodel.Keyed[E], error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", r.selectColumns(), r.schema.Table, r.liveClause())
	args := []any{}

	if field != "" {
		query += fmt.Sprintf(" AND %s = ?", field)
		args = append(args, value)
	}
	if len(excludeIDs) > 0 {
		query += fmt.Sprintf(" AND %s NOT IN (?)", r.schema.PKColumn)
		args = append(args, excludeIDs)
	}
	query += fmt.Sprintf(" ORDER BY %s", r.schema.PKColumn)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: expand find all on %s: %w", r.schema.Table, err)
	}
	expanded = r.db.Read.Rebind(expanded)

	rows, err := r.db.Read.QueryxContext(ctx, expanded, expandedArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find all on %s: %w", r.schema.Table, err)
	}
	defer rows.Close()

	var out []entitymodel.Keyed[E]
	for rows.Next() {
		kv, err := scanKeyed[E](rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row on %s: %w", r.schema.Table, err)
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

// Count returns the number of rows matching field=value, excluding
// excludeIDs. distinctColumn, if non-empty, counts distinct values of
// that column instead of rows.
func (r *EntityRepo[E]) Count(ctx context.Context, field string, value any, excludeIDs []string, distinctColumn string) (int64, error) {
	selectExpr := "COUNT(*)"
	if distinctColumn != "" {
		selectExpr = fmt.Sprintf("COUNT(DISTINCT %s)", distinctColumn)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", selectExpr, r.schema.Table, r.liveClause())
	args := []any{}

	if field != "" {
		query += fmt.Sprintf(" AND %s = ?", field)
		args = append(args, value)
	}
	if len(excludeIDs) > 0 {
		query += fmt.Sprintf(" AND %s NOT IN (?)", r.schema.PKColumn)
		args = append(args, excludeIDs)
	}

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: expand count on %s: %w", r.schema.Table, err)
	}
	expanded = r.db.Read.Rebind(expanded)

	var count int64
	if err := r.db.Read.GetContext(ctx, &count, expanded, expandedArgs...); err != nil {
		return 0, fmt.Errorf("postgres: count on %s: %w", r.schema.Table, err)
	}
	return count, nil
}

// BulkUpsertLive upserts every row's full column set (live, non-historical mode).
func (r *EntityRepo[E]) BulkUpsertLive(ctx context.Context, tx pgx.Tx, rows []entitymodel.Keyed[E]) error {
	if len(rows) == 0 {
		return nil
	}
	setClauses := make([]string, len(r.columns))
	for i, c := range r.columns {
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	placeholders := "$1, " + placeholderList(2, len(r.columns))
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		r.schema.Table, r.selectColumns(), placeholders, r.schema.PKColumn, strings.Join(setClauses, ", "),
	)

	batch := &pgx.Batch{}
	for _, row := range rows {
		args := append([]any{row.ID}, storage.Values(row.Data)...)
		batch.Queue(query, args...)
	}
	return sendBatch(ctx, tx, batch, len(rows))
}

// DeleteWhereID deletes every row whose id is in ids.
func (r *EntityRepo[E]) DeleteWhereID(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", r.schema.Table, r.schema.PKColumn)
	if _, err := tx.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: delete where id on %s: %w", r.schema.Table, err)
	}
	return nil
}

// BulkInsertVersions inserts one row per historical version, with
// block_range built from each version's [StartHeight, EndHeight).
func (r *EntityRepo[E]) BulkInsertVersions(ctx context.Context, tx pgx.Tx, versions []entitymodel.VersionRow[E]) error {
	if len(versions) == 0 {
		return nil
	}
	placeholders := "$1, " + placeholderList(2, len(r.columns)+1)
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, block_range) VALUES (%s)",
		r.schema.Table, r.selectColumns(), placeholders,
	)

	batch := &pgx.Batch{}
	for _, v := range versions {
		rng := blockRange(v.StartHeight, v.EndHeight)
		args := append([]any{v.ID}, storage.Values(v.Data)...)
		args = append(args, rng)
		batch.Queue(query, args...)
	}
	return sendBatch(ctx, tx, batch, len(versions))
}

// CloseOpenRanges reshapes each id's currently-open `[lo, ∞)` row into
// `[lo, NewUpper)`.
func (r *EntityRepo[E]) CloseOpenRanges(ctx context.Context, tx pgx.Tx, closes []entitymodel.RangeClose) error {
	if len(closes) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE %s SET block_range = int8range(lower(block_range), $2) WHERE %s = $1 AND upper_inf(block_range)",
		r.schema.Table, r.schema.PKColumn,
	)

	batch := &pgx.Batch{}
	for _, c := range closes {
		batch.Queue(query, c.ID, int64(c.NewUpper))
	}
	return sendBatch(ctx, tx, batch, len(closes))
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch statement %d: %w", i, err)
		}
	}
	return nil
}

func blockRange(start uint64, end *uint64) pgtype.Range[pgtype.Int8] {
	upper := pgtype.Int8{Valid: false}
	upperType := pgtype.Unbounded
	if end != nil {
		upper = pgtype.Int8{Int64: int64(*end), Valid: true}
		upperType = pgtype.Exclusive
	}
	return pgtype.Range[pgtype.Int8]{
		Lower:     pgtype.Int8{Int64: int64(start), Valid: true},
		Upper:     upper,
		LowerType: pgtype.Inclusive,
		UpperType: upperType,
		Valid:     true,
	}
}

func placeholderList(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
