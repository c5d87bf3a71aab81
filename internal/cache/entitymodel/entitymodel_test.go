package entitymodel

import (
	"context"
	"sort"
	"testing"

	"github.com/jackc/pgx/v5"
)

type widget struct {
	Name string `db:"name"`
	V    int    `db:"v"`
}

// fakeRepo is an in-memory stand-in for the Postgres repository, used to
// exercise C5's flush protocol without a real database.
type fakeRepo struct {
	byID      map[string]widget
	upserts   []Keyed[widget]
	deletes   []string
	versions  []VersionRow[widget]
	closes    []RangeClose
	findAllFn func(field string, value any, exclude []string, limit, offset int) []Keyed[widget]
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]widget)}
}

func (f *fakeRepo) FindByPK(ctx context.Context, id string) (*widget, error) {
	if w, ok := f.byID[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (f *fakeRepo) FindAll(ctx context.Context, field string, value any, excludeIDs []string, limit, offset int) ([]Keyed[widget], error) {
	if f.findAllFn != nil {
		return f.findAllFn(field, value, excludeIDs, limit, offset), nil
	}
	return nil, nil
}

func (f *fakeRepo) Count(ctx context.Context, field string, value any, excludeIDs []string, distinctColumn string) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) BulkUpsertLive(ctx context.Context, tx pgx.Tx, rows []Keyed[widget]) error {
	f.upserts = append(f.upserts, rows...)
	for _, r := range rows {
		f.byID[r.ID] = r.Data
	}
	return nil
}

func (f *fakeRepo) DeleteWhereID(ctx context.Context, tx pgx.Tx, ids []string) error {
	f.deletes = append(f.deletes, ids...)
	for _, id := range ids {
		delete(f.byID, id)
	}
	return nil
}

func (f *fakeRepo) BulkInsertVersions(ctx context.Context, tx pgx.Tx, versions []VersionRow[widget]) error {
	f.versions = append(f.versions, versions...)
	return nil
}

func (f *fakeRepo) CloseOpenRanges(ctx context.Context, tx pgx.Tx, closes []RangeClose) error {
	f.closes = append(f.closes, closes...)
	return nil
}

func TestRoundTripNonHistorical(t *testing.T) {
	repo := newFakeRepo()
	m := New[widget](repo, Config{})

	m.Set("a", widget{Name: "a", V: 1}, 5)
	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	fresh := New[widget](repo, Config{})
	got, err := fresh.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Valid || got.Value.V != 1 {
		t.Fatalf("expected round-tripped value, got %+v", got)
	}
}

func TestHistoricalFlushCloseAndInsert(t *testing.T) {
	repo := newFakeRepo()
	m := New[widget](repo, Config{Historical: true})

	m.Set("a", widget{V: 1}, 5)
	m.Set("a", widget{V: 2}, 8)
	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(repo.closes) != 1 || repo.closes[0].ID != "a" || repo.closes[0].NewUpper != 5 {
		t.Fatalf("expected close-previous at height 5, got %+v", repo.closes)
	}
	if len(repo.versions) != 2 {
		t.Fatalf("expected 2 inserted versions, got %d", len(repo.versions))
	}
	if repo.versions[0].StartHeight != 5 || repo.versions[0].EndHeight == nil || *repo.versions[0].EndHeight != 8 {
		t.Fatalf("expected first version [5,8), got %+v", repo.versions[0])
	}
	if repo.versions[1].StartHeight != 8 || repo.versions[1].EndHeight != nil {
		t.Fatalf("expected second version [8,inf), got %+v", repo.versions[1])
	}
}

func TestHistoricalRemoveClosesWithoutInsert(t *testing.T) {
	repo := newFakeRepo()
	m := New[widget](repo, Config{Historical: true})

	m.Remove("a", 7)
	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(repo.closes) != 1 || repo.closes[0].NewUpper != 7 {
		t.Fatalf("expected close at 7, got %+v", repo.closes)
	}
	if len(repo.versions) != 0 {
		t.Fatalf("expected no inserted versions for a pure remove, got %d", len(repo.versions))
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	m := New[widget](repo, Config{})
	m.Set("a", widget{V: 1}, 1)
	m.Remove("a", 5)
	m.Remove("a", 9) // second call must not move the removedAtBlock

	if m.removeCache["a"] != 5 {
		t.Fatalf("expected removedAtBlock to stay at first call's height, got %d", m.removeCache["a"])
	}
}

func TestGetByFieldDedupsAcrossCacheAndDB(t *testing.T) {
	repo := newFakeRepo()
	repo.findAllFn = func(field string, value any, exclude []string, limit, offset int) []Keyed[widget] {
		return []Keyed[widget]{{ID: "db1", Data: widget{Name: "x", V: 99}}}
	}
	m := New[widget](repo, Config{})
	m.Set("mem1", widget{Name: "x", V: 1}, 1)

	got, err := m.GetByField(context.Background(), "name", "x", 0, 10)
	if err != nil {
		t.Fatalf("getByField: %v", err)
	}
	var names []string
	for _, w := range got {
		names = append(names, w.Name)
	}
	sort.Strings(names)
	if len(got) != 2 {
		t.Fatalf("expected 2 merged results, got %d: %+v", len(got), got)
	}
}

func TestBulkUpdateWithFieldsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	repo := newFakeRepo()
	m := New[widget](repo, Config{})
	m.BulkUpdate([]Keyed[widget]{{ID: "a", Data: widget{}}}, 1, "name")
}

func TestIsFlushableTracksSetCacheOnly(t *testing.T) {
	repo := newFakeRepo()
	m := New[widget](repo, Config{})
	if m.IsFlushable() {
		t.Fatal("expected not flushable when empty")
	}
	m.Set("a", widget{}, 1)
	if !m.IsFlushable() {
		t.Fatal("expected flushable after a set")
	}
}
