// Package setversion implements the set-version model (C3): the ordered,
// non-overlapping history of values for one entity id, used by the
// cached entity model to support both live and historical (block-range)
// reads.
package setversion

import (
	"fmt"
	"reflect"
)

// Height is a block height.
type Height = uint64

// Version is one (data, startHeight, endHeight) interval. EndHeight is
// nil while the version is open ("live at tip").
type Version[E any] struct {
	Data        E
	StartHeight Height
	EndHeight   *Height
}

// Open reports whether this version has no end height yet.
func (v Version[E]) Open() bool {
	return v.EndHeight == nil
}

// Model is the per-id version history. Zero value is ready to use.
type Model[E any] struct {
	versions []Version[E]
}

// New returns an empty model.
func New[E any]() *Model[E] {
	return &Model[E]{}
}

// Set closes the currently open version at h (if any) and opens a new
// version (data, h, ∞). If h equals the open version's start height, the
// open version is replaced in place rather than producing a zero-width
// interval. Setting at a height strictly before the last start height is
// a programmer error.
func (m *Model[E]) Set(data E, h Height) {
	if n := len(m.versions); n > 0 {
		last := &m.versions[n-1]
		if last.Open() {
			switch {
			case h == last.StartHeight:
				last.Data = data
				return
			case h < last.StartHeight:
				panic(fmt.Sprintf("setversion: set at height %d precedes open version start %d", h, last.StartHeight))
			default:
				end := h
				last.EndHeight = &end
			}
		} else if h < last.StartHeight {
			panic(fmt.Sprintf("setversion: set at height %d precedes last version start %d", h, last.StartHeight))
		}
	}
	m.versions = append(m.versions, Version[E]{Data: data, StartHeight: h})
}

// MarkAsRemoved closes the open version at h without opening a new one.
// A no-op if there is no open version (idempotent removal).
func (m *Model[E]) MarkAsRemoved(h Height) {
	if n := len(m.versions); n > 0 {
		last := &m.versions[n-1]
		if last.Open() {
			end := h
			last.EndHeight = &end
		}
	}
}

// GetLatest returns the most recent version's data, if any version
// exists (open or closed).
func (m *Model[E]) GetLatest() (E, bool) {
	var zero E
	if len(m.versions) == 0 {
		return zero, false
	}
	return m.versions[len(m.versions)-1].Data, true
}

// GetFirst returns the earliest version's data, if any.
func (m *Model[E]) GetFirst() (E, bool) {
	var zero E
	if len(m.versions) == 0 {
		return zero, false
	}
	return m.versions[0].Data, true
}

// GetValues returns the full ordered version history.
func (m *Model[E]) GetValues() []Version[E] {
	return m.versions
}

// IsOpen reports whether the last version (if any) is still open — i.e.
// the id has not been removed.
func (m *Model[E]) IsOpen() bool {
	n := len(m.versions)
	return n > 0 && m.versions[n-1].Open()
}

// IsMatchData reports whether the latest version's named field equals
// value. An empty field name matches unconditionally (any latest
// version). Field lookup first tries a `db` struct tag, then the literal
// Go field name.
func (m *Model[E]) IsMatchData(field string, value any) bool {
	latest, ok := m.GetLatest()
	if !ok {
		return false
	}
	if field == "" {
		return true
	}
	return MatchField(latest, field, value)
}

// MatchField reports whether data's named field equals value. Exported
// so other caches (e.g. the recency-backed read cache in the entity
// model) can apply the same matching rule against plain values, not
// just version histories.
func MatchField(data any, field string, value any) bool {
	if field == "" {
		return true
	}
	fv, ok := fieldValue(data, field)
	if !ok {
		return false
	}
	return reflect.DeepEqual(fv, value)
}

func fieldValue(data any, field string) (any, bool) {
	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if tag, ok := sf.Tag.Lookup("db"); ok && tag == field {
			return rv.Field(i).Interface(), true
		}
	}
	if fv := rv.FieldByName(field); fv.IsValid() {
		return fv.Interface(), true
	}
	return nil, false
}
