// Package metadatamodel implements the cached metadata model (C6): the
// same write-through cache pattern as C5, specialised to scalar
// singleton keys, including increment-only counters.
package metadatamodel

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository is the narrow storage capability C6 needs.
type Repository interface {
	Find(ctx context.Context, key string) (string, bool, error)
	FindMany(ctx context.Context, keys []string) (map[string]string, error)
	BulkUpsert(ctx context.Context, tx pgx.Tx, values map[string]string) error
	AtomicAdd(ctx context.Context, tx pgx.Tx, key string, delta int64) error
}

// Model is the C6 cached metadata model.
type Model struct {
	repo         Repository
	incrementSet map[string]bool

	setCache map[string]string // pending writes, last-writer-wins values
	incr     map[string]int64  // pending deltas for increment keys
	getCache map[string]string

	flushableRecordCounter int
}

// New constructs a metadata model. incrementKeys names the closed set of
// keys whose writes accumulate rather than overwrite.
func New(repo Repository, incrementKeys []string) *Model {
	set := make(map[string]bool, len(incrementKeys))
	for _, k := range incrementKeys {
		set[k] = true
	}
	return &Model{
		repo:         repo,
		incrementSet: set,
		setCache:     make(map[string]string),
		incr:         make(map[string]int64),
		getCache:     make(map[string]string),
	}
}

// Find returns key's value, consulting the read cache before the
// database.
func (m *Model) Find(ctx context.Context, key string) (string, bool, error) {
	if v, ok := m.getCache[key]; ok {
		return v, true, nil
	}
	v, ok, err := m.repo.Find(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("metadatamodel: find %q: %w", key, err)
	}
	if ok {
		m.getCache[key] = v
	}
	return v, ok, nil
}

// FindMany bulk-looks-up keys, with setCache taking priority over the DB
// result, and writes the merged result back into getCache.
func (m *Model) FindMany(ctx context.Context, keys []string) (map[string]string, error) {
	fromDB, err := m.repo.FindMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("metadatamodel: findMany: %w", err)
	}
	merged := make(map[string]string, len(keys))
	for k, v := range fromDB {
		merged[k] = v
	}
	for k, v := range m.setCache {
		if _, wanted := indexOf(keys, k); wanted {
			merged[k] = v
		}
	}
	for k, v := range merged {
		m.getCache[k] = v
	}
	return merged, nil
}

func indexOf(keys []string, k string) (int, bool) {
	for i, x := range keys {
		if x == k {
			return i, true
		}
	}
	return -1, false
}

// Set overwrites key's pending value (last-writer-wins).
func (m *Model) Set(key, value string) {
	if m.incrementSet[key] {
		panic(fmt.Sprintf("metadatamodel: %q is an increment-only key, use SetIncrement", key))
	}
	if _, existed := m.setCache[key]; !existed {
		m.flushableRecordCounter++
	}
	m.setCache[key] = value
	m.getCache[key] = value
}

// SetBulk repeats Set for every key/value pair.
func (m *Model) SetBulk(values map[string]string) {
	for k, v := range values {
		m.Set(k, v)
	}
}

// SetIncrement accumulates delta into key's pending in-memory total.
// Only valid for keys in the increment-only set.
func (m *Model) SetIncrement(key string, delta int64) {
	if !m.incrementSet[key] {
		panic(fmt.Sprintf("metadatamodel: %q is not an increment-only key", key))
	}
	if _, existed := m.incr[key]; !existed {
		m.flushableRecordCounter++
	}
	m.incr[key] += delta
}

// IsFlushable reports whether any write is pending.
func (m *Model) IsFlushable() bool {
	return len(m.setCache) > 0 || len(m.incr) > 0
}

// FlushableRecordCount is the running count C7 sums for threshold-based
// flush triggers.
func (m *Model) FlushableRecordCount() int {
	return m.flushableRecordCounter
}

// Flush bulk-upserts last-writer-wins entries and issues a server-side
// atomic add for every pending increment, so concurrent flushers never
// lose an update to a stale snapshot. Clears caches on success.
func (m *Model) Flush(ctx context.Context, tx pgx.Tx) error {
	if len(m.setCache) > 0 {
		if err := m.repo.BulkUpsert(ctx, tx, m.setCache); err != nil {
			return fmt.Errorf("metadatamodel: bulk upsert: %w", err)
		}
	}
	for key, delta := range m.incr {
		if err := m.repo.AtomicAdd(ctx, tx, key, delta); err != nil {
			return fmt.Errorf("metadatamodel: atomic add %q: %w", key, err)
		}
	}

	m.setCache = make(map[string]string)
	m.incr = make(map[string]int64)
	m.flushableRecordCounter = 0
	return nil
}
