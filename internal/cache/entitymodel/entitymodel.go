// Package entitymodel implements the cached entity model (C5): the
// read/write/remove API over one entity type, merging the set-version
// model (C3) and the bounded recency map (C4), and flushing pending
// mutations to storage inside one database transaction.
package entitymodel

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vietddude/chainindex/internal/cache/recency"
	"github.com/vietddude/chainindex/internal/cache/setversion"
)

// Null represents a cached id → E | NULL entry: Valid=false is the
// negative-cache marker (row confirmed absent in the DB).
type Null[E any] struct {
	Value E
	Valid bool
}

func present[E any](v E) Null[E] { return Null[E]{Value: v, Valid: true} }

// Keyed pairs an entity payload with its id, for bulk write operations.
type Keyed[E any] struct {
	ID   string
	Data E
}

// VersionRow is one historical row to insert: one per SetValueModel
// version, across all ids flushed this round.
type VersionRow[E any] struct {
	ID          string
	Data        E
	StartHeight uint64
	EndHeight   *uint64
}

// RangeClose reshapes a previously-open `[lo, ∞)` row into `[lo, NewUpper)`.
type RangeClose struct {
	ID       string
	NewUpper uint64
}

// Repository is the narrow storage capability C5 needs — no ORM leakage,
// per the source's re-architecture guidance. Read methods run outside a
// transaction; write methods always run inside the flush transaction.
type Repository[E any] interface {
	FindByPK(ctx context.Context, id string) (*E, error)
	FindAll(ctx context.Context, field string, value any, excludeIDs []string, limit, offset int) ([]Keyed[E], error)
	Count(ctx context.Context, field string, value any, excludeIDs []string, distinctColumn string) (int64, error)

	BulkUpsertLive(ctx context.Context, tx pgx.Tx, rows []Keyed[E]) error
	DeleteWhereID(ctx context.Context, tx pgx.Tx, ids []string) error
	BulkInsertVersions(ctx context.Context, tx pgx.Tx, versions []VersionRow[E]) error
	CloseOpenRanges(ctx context.Context, tx pgx.Tx, closes []RangeClose) error
}

// Model is the C5 cached entity model for one entity type E.
type Model[E any] struct {
	idField    string
	historical bool
	repo       Repository[E]

	setCache    map[string]*setversion.Model[E]
	removeCache map[string]uint64 // id -> removedAtBlock
	getCache    *recency.Map[string, Null[E]]

	flushableRecordCounter int
}

// Config bundles Model construction parameters.
type Config struct {
	// IDField is the struct-tag/field name treated as the primary key for
	// GetOneByField's fast path. Defaults to "id".
	IDField string
	// Historical enables block-range versioned flush semantics.
	Historical bool
	// CacheCapacity / CacheTTL configure the C4 read cache.
	CacheCapacity int
	CacheTTL      time.Duration
	// NowFn overrides the clock for tests.
	NowFn func() time.Time
}

// New constructs a cached entity model backed by repo.
func New[E any](repo Repository[E], cfg Config) *Model[E] {
	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}
	cap := cfg.CacheCapacity
	if cap <= 0 {
		cap = 500
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Model[E]{
		idField:     idField,
		historical:  cfg.Historical,
		repo:        repo,
		setCache:    make(map[string]*setversion.Model[E]),
		removeCache: make(map[string]uint64),
		getCache:    recency.New[string, Null[E]](cap, ttl, cfg.NowFn),
	}
}

// Get resolves one id through remove cache, get cache, set cache, and
// finally the database, in that order.
func (m *Model[E]) Get(ctx context.Context, id string) (Null[E], error) {
	if _, removed := m.removeCache[id]; removed {
		return Null[E]{}, nil
	}
	if n, ok := m.getCache.Get(id); ok {
		return n, nil
	}
	if sv, ok := m.setCache[id]; ok {
		if v, ok := sv.GetLatest(); ok {
			return present(v), nil
		}
	}
	row, err := m.repo.FindByPK(ctx, id)
	if err != nil {
		return Null[E]{}, fmt.Errorf("entitymodel: find by pk %q: %w", id, err)
	}
	if row == nil {
		m.getCache.Set(id, Null[E]{})
		return Null[E]{}, nil
	}
	n := present(*row)
	m.getCache.Set(id, n)
	return n, nil
}

// GetByField returns all entities with field == value, windowed by
// offset/limit, merging in-memory cache state with a residual DB query.
func (m *Model[E]) GetByField(ctx context.Context, field string, value any, offset, limit int) ([]E, error) {
	var inMemory []E
	seen := make(map[string]bool)

	for id, sv := range m.setCache {
		if _, removed := m.removeCache[id]; removed {
			continue
		}
		if sv.IsMatchData(field, value) {
			v, _ := sv.GetLatest()
			inMemory = append(inMemory, v)
			seen[id] = true
		}
	}
	m.getCache.ForEach(func(id string, n Null[E]) bool {
		if !n.Valid || seen[id] {
			return true
		}
		if setversion.MatchField(n.Value, field, value) {
			inMemory = append(inMemory, n.Value)
			seen[id] = true
		}
		return true
	})

	total := len(inMemory)
	var windowed []E
	if offset < total {
		end := total
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		windowed = append(windowed, inMemory[offset:end]...)
	}

	if limit > 0 && len(windowed) >= limit {
		return windowed, nil
	}

	dbOffset := 0
	if offset > total {
		dbOffset = offset - total
	}
	residualLimit := 0
	if limit > 0 {
		residualLimit = limit - len(windowed)
	}

	rows, err := m.repo.FindAll(ctx, field, value, m.allCachedIDs(), residualLimit, dbOffset)
	if err != nil {
		return nil, fmt.Errorf("entitymodel: find all by field %q: %w", field, err)
	}
	for _, row := range rows {
		m.getCache.Set(row.ID, present(row.Data))
		windowed = append(windowed, row.Data)
	}
	return windowed, nil
}

// GetOneByField is GetByField's single-result fast path: delegates to
// Get when field is the id field, short-circuits to a NULL result
// rather than dereferencing anything when nothing matches.
func (m *Model[E]) GetOneByField(ctx context.Context, field string, value any) (Null[E], error) {
	if field == m.idField {
		id, _ := value.(string)
		return m.Get(ctx, id)
	}

	for id, sv := range m.setCache {
		if _, removed := m.removeCache[id]; removed {
			continue
		}
		if sv.IsMatchData(field, value) {
			v, _ := sv.GetLatest()
			return present(v), nil
		}
	}
	var found Null[E]
	m.getCache.ForEach(func(id string, n Null[E]) bool {
		if n.Valid && setversion.MatchField(n.Value, field, value) {
			found = n
			return false
		}
		return true
	})
	if found.Valid {
		return found, nil
	}

	rows, err := m.repo.FindAll(ctx, field, value, m.allCachedIDs(), 1, 0)
	if err != nil {
		return Null[E]{}, fmt.Errorf("entitymodel: find one by field %q: %w", field, err)
	}
	if len(rows) == 0 {
		return Null[E]{}, nil
	}
	m.getCache.Set(rows[0].ID, present(rows[0].Data))
	return present(rows[0].Data), nil
}

// Count returns in-memory matches plus a residual DB count, excluding
// ids already accounted for in memory.
func (m *Model[E]) Count(ctx context.Context, field string, value any, distinct bool, distinctColumn string) (int64, error) {
	if distinct && distinctColumn == "" {
		panic("entitymodel: distinct count requires an explicit column")
	}

	var inMemory int64
	seen := make(map[string]bool)
	for id, sv := range m.setCache {
		if _, removed := m.removeCache[id]; removed {
			continue
		}
		if field == "" || sv.IsMatchData(field, value) {
			inMemory++
			seen[id] = true
		}
	}
	m.getCache.ForEach(func(id string, n Null[E]) bool {
		if !n.Valid || seen[id] {
			return true
		}
		if field == "" || setversion.MatchField(n.Value, field, value) {
			inMemory++
			seen[id] = true
		}
		return true
	})

	col := ""
	if distinct {
		col = distinctColumn
	}
	dbCount, err := m.repo.Count(ctx, field, value, m.allCachedIDs(), col)
	if err != nil {
		return 0, fmt.Errorf("entitymodel: count by field %q: %w", field, err)
	}
	return inMemory + dbCount, nil
}

// Set upserts id's data at height h.
func (m *Model[E]) Set(id string, data E, h uint64) {
	sv, ok := m.setCache[id]
	if !ok {
		sv = setversion.New[E]()
		m.setCache[id] = sv
		m.flushableRecordCounter++
	}
	sv.Set(data, h)
	delete(m.removeCache, id)
	m.getCache.Set(id, present(data))
}

// BulkCreate repeats Set for every item.
func (m *Model[E]) BulkCreate(items []Keyed[E], h uint64) {
	for _, it := range items {
		m.Set(it.ID, it.Data, h)
	}
}

// BulkUpdate repeats Set for every item. Passing fields is a hard error:
// partial-field updates are not supported.
func (m *Model[E]) BulkUpdate(items []Keyed[E], h uint64, fields ...string) {
	if len(fields) > 0 {
		panic("entitymodel: bulkUpdate with a field subset is not supported")
	}
	m.BulkCreate(items, h)
}

// Remove marks id removed at height h. Idempotent.
func (m *Model[E]) Remove(id string, h uint64) {
	if _, already := m.removeCache[id]; already {
		return
	}
	m.removeCache[id] = h
	m.getCache.Delete(id)
	if sv, ok := m.setCache[id]; ok {
		sv.MarkAsRemoved(h)
	}
}

// IsFlushable mirrors the source: true iff setCache is non-empty.
func (m *Model[E]) IsFlushable() bool {
	return len(m.setCache) > 0
}

// FlushableRecordCount is the running count C7 sums to decide when to
// trigger a threshold-based flush.
func (m *Model[E]) FlushableRecordCount() int {
	return m.flushableRecordCounter
}

// Flush materialises pending mutations inside tx, then clears the
// in-memory caches so new writes may accumulate while tx is still being
// committed by the caller (the documented fire-and-clear hazard: a
// commit failure after this point loses the in-memory record of what
// was pending). pgx.Tx serialises statements on one connection, so the
// close-previous and bulk-insert steps run sequentially rather than
// concurrently, unlike the conceptually-parallel source design.
func (m *Model[E]) Flush(ctx context.Context, tx pgx.Tx) error {
	if !m.IsFlushable() && len(m.removeCache) == 0 {
		return nil
	}

	if m.historical {
		if err := m.flushHistorical(ctx, tx); err != nil {
			return err
		}
	} else {
		if err := m.flushLive(ctx, tx); err != nil {
			return err
		}
	}

	m.setCache = make(map[string]*setversion.Model[E])
	m.removeCache = make(map[string]uint64)
	m.flushableRecordCounter = 0
	return nil
}

func (m *Model[E]) flushLive(ctx context.Context, tx pgx.Tx) error {
	rows := make([]Keyed[E], 0, len(m.setCache))
	for id, sv := range m.setCache {
		if v, ok := sv.GetLatest(); ok {
			rows = append(rows, Keyed[E]{ID: id, Data: v})
		}
	}
	if len(rows) > 0 {
		if err := m.repo.BulkUpsertLive(ctx, tx, rows); err != nil {
			return fmt.Errorf("entitymodel: bulk upsert live: %w", err)
		}
	}

	ids := make([]string, 0, len(m.removeCache))
	for id := range m.removeCache {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if err := m.repo.DeleteWhereID(ctx, tx, ids); err != nil {
			return fmt.Errorf("entitymodel: delete where id: %w", err)
		}
	}
	return nil
}

func (m *Model[E]) flushHistorical(ctx context.Context, tx pgx.Tx) error {
	var closes []RangeClose
	var versions []VersionRow[E]

	for id, sv := range m.setCache {
		vals := sv.GetValues()
		if len(vals) == 0 {
			continue
		}
		closes = append(closes, RangeClose{ID: id, NewUpper: vals[0].StartHeight})
		for _, v := range vals {
			versions = append(versions, VersionRow[E]{
				ID:          id,
				Data:        v.Data,
				StartHeight: v.StartHeight,
				EndHeight:   v.EndHeight,
			})
		}
	}
	for id, removedAt := range m.removeCache {
		if _, alreadyClosing := m.setCache[id]; alreadyClosing {
			continue
		}
		closes = append(closes, RangeClose{ID: id, NewUpper: removedAt})
	}

	if len(closes) > 0 {
		if err := m.repo.CloseOpenRanges(ctx, tx, closes); err != nil {
			return fmt.Errorf("entitymodel: close open ranges: %w", err)
		}
	}
	if len(versions) > 0 {
		if err := m.repo.BulkInsertVersions(ctx, tx, versions); err != nil {
			return fmt.Errorf("entitymodel: bulk insert versions: %w", err)
		}
	}
	return nil
}

func (m *Model[E]) allCachedIDs() []string {
	ids := make([]string, 0, len(m.setCache)+len(m.removeCache))
	for id := range m.setCache {
		ids = append(ids, id)
	}
	m.getCache.ForEach(func(id string, _ Null[E]) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
