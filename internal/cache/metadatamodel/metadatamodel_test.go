package metadatamodel

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRepo struct {
	stored  map[string]int64
	strings map[string]string
	adds    map[string]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: make(map[string]int64), strings: make(map[string]string), adds: make(map[string]int64)}
}

func (f *fakeRepo) Find(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeRepo) FindMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := f.strings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeRepo) BulkUpsert(ctx context.Context, tx pgx.Tx, values map[string]string) error {
	for k, v := range values {
		f.strings[k] = v
	}
	return nil
}

func (f *fakeRepo) AtomicAdd(ctx context.Context, tx pgx.Tx, key string, delta int64) error {
	f.stored[key] += delta
	f.adds[key] += delta
	return nil
}

func TestSetIncrementAccumulatesAgainstCurrentDBValue(t *testing.T) {
	repo := newFakeRepo()
	repo.stored["processedBlockCount"] = 10

	m := New(repo, []string{"processedBlockCount"})
	m.SetIncrement("processedBlockCount", 3)
	m.SetIncrement("processedBlockCount", 2)

	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if repo.stored["processedBlockCount"] != 15 {
		t.Fatalf("expected 15, got %d", repo.stored["processedBlockCount"])
	}
}

func TestSetOnIncrementKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	m := New(newFakeRepo(), []string{"processedBlockCount"})
	m.Set("processedBlockCount", "5")
}

func TestLastWriterWins(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	m.Set("k", "v1")
	m.Set("k", "v2")
	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if repo.strings["k"] != "v2" {
		t.Fatalf("expected v2, got %q", repo.strings["k"])
	}
}

func TestFlushClearsCaches(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, []string{"c"})
	m.Set("k", "v")
	m.SetIncrement("c", 1)
	if err := m.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if m.IsFlushable() {
		t.Fatal("expected no pending writes after flush")
	}
}
