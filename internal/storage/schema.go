// Package storage defines the table schema and the backend-agnostic
// Repository that exported tables are written through. Backends live in
// subpackages and register themselves by kind; import storage/all to get
// every one of them.
package storage

import (
	"fmt"
	"strings"
)

// Table kinds, in the order the export engine creates and loads them.
const (
	KindDimension = "dimension"
	KindFact      = "fact"
	KindLong      = "long"
)

// ColumnType is a logical column type. Each backend maps it to a native type.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	// TypeKey is a surrogate key: short text (hex, uuid or decimal sequence).
	TypeKey ColumnType = "key"
)

type TableSpec struct {
	Name        string           `json:"name"`
	Kind        string           `json:"kind"` // "dimension" | "fact" | "long"
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	References *Reference `json:"references,omitempty"`
	Nullable   bool       `json:"nullable,omitempty"`
}

// Reference is a foreign key target.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the column called name.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// UniqueColumns returns the columns of the first unique constraint, or nil.
func (t TableSpec) UniqueColumns() []string {
	for _, c := range t.Constraints {
		if strings.EqualFold(c.Kind, "unique") {
			return c.Columns
		}
	}
	return nil
}

// Validate checks that the spec is self-consistent: non-empty unique column
// names, known types, and key/constraint columns that exist.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("storage: table %s has a column with an empty name", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("storage: table %s: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = true

		switch c.Type {
		case TypeText, TypeInteger, TypeReal, TypeKey:
		default:
			return fmt.Errorf("storage: table %s column %s: unknown type %q", t.Name, c.Name, c.Type)
		}
		if c.References != nil && (c.References.Table == "" || c.References.Column == "") {
			return fmt.Errorf("storage: table %s column %s: incomplete reference", t.Name, c.Name)
		}
	}

	for _, k := range t.PrimaryKey {
		if !seen[k] {
			return fmt.Errorf("storage: table %s: primary key column %q not declared", t.Name, k)
		}
	}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return fmt.Errorf("storage: table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return fmt.Errorf("storage: table %s: unique constraint without columns", t.Name)
		}
		for _, k := range con.Columns {
			if !seen[k] {
				return fmt.Errorf("storage: table %s: constraint column %q not declared", t.Name, k)
			}
		}
	}
	return nil
}
