// Package storage holds the reflective schema descriptor the generic
// repository layer is built from: table/key/mode metadata, the column
// and value lists derived from `db` struct tags, and bootstrap DDL.
package storage

import (
	"fmt"
	"reflect"
)

// Schema describes one entity type's table for the generic repository
// layer: table name, primary-key column, and whether it is stored in
// historical (block-range versioned) or live (upsert-in-place) mode.
type Schema struct {
	Table      string
	PKColumn   string
	Historical bool
}

// Columns returns E's `db`-tagged field names in declaration order,
// excluding any tagged "-".
func Columns[E any]() []string {
	var zero E
	rt := reflect.TypeOf(zero)
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		panic(fmt.Sprintf("storage: %s is not a struct", rt))
	}
	cols := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("db")
		if !ok || tag == "-" {
			continue
		}
		cols = append(cols, tag)
	}
	return cols
}

// Values returns e's field values in the same order Columns returns
// their names.
func Values[E any](e E) []any {
	rv := reflect.ValueOf(e)
	rt := rv.Type()
	vals := make([]any, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("db")
		if !ok || tag == "-" {
			continue
		}
		vals = append(vals, rv.Field(i).Interface())
	}
	return vals
}

// sqlType maps a Go field kind to a Postgres column type for bootstrap
// DDL. A field may override the guess with an explicit `sqltype` tag.
func sqlType(f reflect.StructField) string {
	if t, ok := f.Tag.Lookup("sqltype"); ok {
		return t
	}
	switch f.Type.Kind() {
	case reflect.String:
		return "text"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return "integer"
	case reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "bigint"
	case reflect.Bool:
		return "boolean"
	case reflect.Float32, reflect.Float64:
		return "double precision"
	default:
		if f.Type.String() == "time.Time" {
			return "timestamptz"
		}
		return "text"
	}
}

// CreateTableSQL renders a `CREATE TABLE IF NOT EXISTS` statement for
// schema, deriving column definitions from E's `db`/`sqltype` tags. In
// historical mode the table additionally carries a `block_range`
// int8range column and an exclusion constraint forbidding overlapping
// ranges for the same id.
func CreateTableSQL[E any](schema Schema) string {
	var zero E
	rt := reflect.TypeOf(zero)
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	var cols []string
	cols = append(cols, fmt.Sprintf("%s text NOT NULL", schema.PKColumn))
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag, ok := f.Tag.Lookup("db")
		if !ok || tag == "-" || tag == schema.PKColumn {
			continue
		}
		cols = append(cols, fmt.Sprintf("%s %s", tag, sqlType(f)))
	}

	if !schema.Historical {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", schema.PKColumn))
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", schema.Table, joinLines(cols))
	}

	cols = append(cols, "block_range int8range NOT NULL")
	cols = append(cols, fmt.Sprintf(
		"EXCLUDE USING gist (%s WITH =, block_range WITH &&)", schema.PKColumn,
	))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", schema.Table, joinLines(cols))
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ",\n\t"
		}
		out += p
	}
	return out
}
