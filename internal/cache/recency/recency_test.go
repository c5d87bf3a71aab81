package recency

import (
	"testing"
	"time"
)

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	m := New[string, int](2, time.Hour, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3) // evicts "a"

	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a to be evicted")
	}
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b present with value 2, got %v ok=%v", v, ok)
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	m := New[string, int](2, time.Hour, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Get("a")      // a now most recent
	m.Set("c", 3) // should evict b, not a

	if _, ok := m.Get("b"); ok {
		t.Fatal("expected b to be evicted after a was refreshed")
	}
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
}

func TestTTLExpiry(t *testing.T) {
	cur := time.Unix(0, 0)
	clock := func() time.Time { return cur }
	m := New[string, int](5, time.Minute, clock)

	m.Set("a", 1)
	cur = cur.Add(2 * time.Minute)

	if _, ok := m.Get("a"); ok {
		t.Fatal("expected entry to expire after TTL")
	}
}

func TestGetOnAccessRefreshesTTL(t *testing.T) {
	cur := time.Unix(0, 0)
	clock := func() time.Time { return cur }
	m := New[string, int](5, time.Minute, clock)

	m.Set("a", 1)
	cur = cur.Add(30 * time.Second)
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected entry to still be live")
	}
	cur = cur.Add(40 * time.Second) // 70s since set, but only 40s since last get
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected TTL refresh on access to keep entry alive")
	}
}

func TestDeleteAndKeysOrder(t *testing.T) {
	m := New[string, int](5, time.Hour, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	m.Delete("b")

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "c" || keys[1] != "a" {
		t.Fatalf("expected [c a] most-recent-first, got %v", keys)
	}
}

func TestForEachStopsEarly(t *testing.T) {
	m := New[string, int](5, time.Hour, nil)
	m.Set("a", 1)
	m.Set("b", 2)

	var seen int
	m.ForEach(func(key string, value int) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("expected ForEach to stop after first item, saw %d", seen)
	}
}
