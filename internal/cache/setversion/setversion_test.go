package setversion

import "testing"

type widget struct {
	Name string `db:"name"`
	V    int    `db:"v"`
}

func TestSetOpensAndClosesVersions(t *testing.T) {
	m := New[widget]()
	m.Set(widget{Name: "a", V: 1}, 5)
	m.Set(widget{Name: "a", V: 2}, 8)

	values := m.GetValues()
	if len(values) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(values))
	}
	if values[0].StartHeight != 5 || values[0].EndHeight == nil || *values[0].EndHeight != 8 {
		t.Fatalf("expected first version [5,8), got %+v", values[0])
	}
	if values[1].StartHeight != 8 || values[1].EndHeight != nil {
		t.Fatalf("expected second version [8,inf), got %+v", values[1])
	}
}

func TestSetAtSameStartReplacesInPlace(t *testing.T) {
	m := New[widget]()
	m.Set(widget{Name: "a", V: 1}, 5)
	m.Set(widget{Name: "a", V: 2}, 5)

	values := m.GetValues()
	if len(values) != 1 {
		t.Fatalf("expected replace in place, got %d versions", len(values))
	}
	if values[0].Data.V != 2 {
		t.Fatalf("expected replaced value 2, got %d", values[0].Data.V)
	}
}

func TestSetBeforeLastStartPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	m := New[widget]()
	m.Set(widget{Name: "a"}, 10)
	m.Set(widget{Name: "a"}, 3)
}

func TestMarkAsRemovedClosesWithoutNewVersion(t *testing.T) {
	m := New[widget]()
	m.Set(widget{Name: "a"}, 1)
	m.MarkAsRemoved(7)

	values := m.GetValues()
	if len(values) != 1 {
		t.Fatalf("expected 1 version, got %d", len(values))
	}
	if values[0].EndHeight == nil || *values[0].EndHeight != 7 {
		t.Fatalf("expected version closed at 7, got %+v", values[0])
	}
	if m.IsOpen() {
		t.Fatal("expected model to report closed after removal")
	}
}

func TestIsMatchDataLatestOnly(t *testing.T) {
	m := New[widget]()
	m.Set(widget{Name: "a"}, 1)
	m.Set(widget{Name: "b"}, 2)

	if !m.IsMatchData("name", "b") {
		t.Fatal("expected match on latest version field")
	}
	if m.IsMatchData("name", "a") {
		t.Fatal("expected no match against stale version field")
	}
	if !m.IsMatchData("", nil) {
		t.Fatal("expected empty field to match unconditionally")
	}
}
