// Package dataset holds the in-memory table model shared by every stage of the
// augmentation pipeline, plus the error taxonomy those stages report with.
//
// A Table is positional: Rows[i][j] is the value of Columns[j] in row i. A nil
// cell means "missing". Stages never mutate their input table; they return a
// new one.
package dataset

import (
	"fmt"
	"strings"
)

// Table is a rows × named-columns structure.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with a copy of columns.
func New(columns []string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Index returns the position of column name, or -1.
func (t Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the table has a column called name.
func (t Table) Has(name string) bool { return t.Index(name) >= 0 }

// Column returns the values of one column, in row order.
func (t Table) Column(name string) ([]any, bool) {
	j := t.Index(name)
	if j < 0 {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[j]
	}
	return out, true
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row []any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("dataset: row has %d cells, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Clone returns a deep copy of the row slices (cell values are shared, they
// are immutable scalars).
func (t Table) Clone() Table {
	out := Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

// Validate checks that every row matches the column count and that column
// names are unique and non-empty.
func (t Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("dataset: empty column name")
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("dataset: duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("dataset: row %d has %d cells, want %d", i, len(r), len(t.Columns))
		}
	}
	return nil
}

// Record returns row i as a column-name → value map.
func (t Table) Record(i int) map[string]any {
	m := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		m[c] = t.Rows[i][j]
	}
	return m
}
