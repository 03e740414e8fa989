// Package normalize rewrites the combined wide table into dimension tables
// with surrogate keys and a single fact table that references them.
package normalize

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"synthetl/internal/combine"
	"synthetl/internal/dataset"
	"synthetl/internal/profile"
)

// tupleSep joins composite natural keys for map lookups.
const tupleSep = "\x1f"

// DimensionGroup collapses several categorical columns into one dimension
// whose natural key is the tuple of their values.
type DimensionGroup struct {
	Name    string
	Columns []string
}

type Options struct {
	RecordIDColumn   string
	ProvenanceColumn string

	Groups []DimensionGroup

	Keys      KeyStrategy
	KeyLength int

	// KeyRand feeds uuid keys. Seed it for reproducible keys; nil uses
	// crypto/rand.
	KeyRand io.Reader
}

// Entry is one dimension row.
type Entry struct {
	Values []string
	Key    string
}

// Dimension maps each distinct natural value (or tuple) to a surrogate key.
type Dimension struct {
	Name      string
	Columns   []string
	KeyColumn string
	Entries   []Entry

	positions []int
	index     map[string]int
}

// Lookup returns the surrogate key for a natural value tuple.
func (d *Dimension) Lookup(values ...string) (string, bool) {
	i, ok := d.index[strings.Join(values, tupleSep)]
	if !ok {
		return "", false
	}
	return d.Entries[i].Key, true
}

// Len returns the number of entries.
func (d *Dimension) Len() int { return len(d.Entries) }

// Table renders the dimension as key column followed by its natural columns.
func (d *Dimension) Table() dataset.Table {
	t := dataset.Table{
		Columns: append([]string{d.KeyColumn}, d.Columns...),
		Rows:    make([][]any, len(d.Entries)),
	}
	for i, e := range d.Entries {
		row := make([]any, 0, len(e.Values)+1)
		row = append(row, e.Key)
		for _, v := range e.Values {
			row = append(row, v)
		}
		t.Rows[i] = row
	}
	return t
}

// Fact is the normalized record table: one key column per dimension, the
// numeric measures, the record id and the provenance flag.
type Fact struct {
	dataset.Table

	KeyColumns []string
	Measures   []string
}

// Result holds every table one run produces.
type Result struct {
	Dimensions []*Dimension
	Fact       Fact

	// Long is the optional unpivoted measure table (see Melt).
	Long *dataset.Table
}

// Dimension returns the dimension called name, or nil.
func (r *Result) Dimension(name string) *Dimension {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Normalize builds the dimensions and fact table for t, the combined table.
//
// Every categorical column of p becomes a dimension unless it belongs to a
// DimensionGroup. Dimensions are ordered by the position of their first
// column in t; entries are in first-seen order over t. A fact value with no
// dimension entry is a referential integrity error.
func Normalize(t dataset.Table, p *profile.Profile, opt Options) (*Result, error) {
	if opt.RecordIDColumn == "" {
		opt.RecordIDColumn = combine.DefaultRecordIDColumn
	}
	if opt.ProvenanceColumn == "" {
		opt.ProvenanceColumn = combine.DefaultProvenanceColumn
	}

	minter, err := newKeyMinter(opt.Keys, opt.KeyLength, opt.KeyRand)
	if err != nil {
		return nil, err
	}

	dims, measures, err := planDimensions(t, p, opt)
	if err != nil {
		return nil, err
	}

	for _, d := range dims {
		if err := d.build(t, minter); err != nil {
			return nil, err
		}
	}

	fact, err := buildFact(t, dims, measures, opt)
	if err != nil {
		return nil, err
	}
	return &Result{Dimensions: dims, Fact: fact}, nil
}

type plannedDim struct {
	*Dimension
	first int
}

func planDimensions(t dataset.Table, p *profile.Profile, opt Options) ([]*Dimension, []string, error) {
	for _, c := range []string{opt.RecordIDColumn, opt.ProvenanceColumn} {
		if !t.Has(c) {
			return nil, nil, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
		}
	}

	var (
		planned []plannedDim
		owner   = make(map[string]string)
	)
	for _, g := range opt.Groups {
		if g.Name == "" || len(g.Columns) == 0 {
			return nil, nil, fmt.Errorf("normalize: dimension group needs a name and columns")
		}
		pd := plannedDim{Dimension: &Dimension{Name: g.Name, Columns: append([]string(nil), g.Columns...)}, first: len(t.Columns)}
		for _, c := range g.Columns {
			j := t.Index(c)
			if j < 0 {
				return nil, nil, &dataset.Error{Table: g.Name, Column: c, Err: dataset.ErrSchemaMismatch}
			}
			if k, _ := p.KindOf(c); k != profile.Categorical {
				return nil, nil, &dataset.Error{Table: g.Name, Column: c,
					Err: fmt.Errorf("%w: dimension group member must be categorical", dataset.ErrSchemaMismatch)}
			}
			if prev, dup := owner[c]; dup {
				return nil, nil, &dataset.Error{Table: g.Name, Column: c,
					Err: fmt.Errorf("column already in dimension group %s", prev)}
			}
			owner[c] = g.Name
			pd.positions = append(pd.positions, j)
			if j < pd.first {
				pd.first = j
			}
		}
		planned = append(planned, pd)
	}

	var measures []string
	for j, c := range t.Columns {
		if c == opt.RecordIDColumn || c == opt.ProvenanceColumn {
			continue
		}
		k, ok := p.KindOf(c)
		if !ok {
			return nil, nil, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
		}
		if k == profile.Numeric {
			measures = append(measures, c)
			continue
		}
		if _, grouped := owner[c]; grouped {
			continue
		}
		planned = append(planned, plannedDim{
			Dimension: &Dimension{Name: c, Columns: []string{c}, positions: []int{j}},
			first:     j,
		})
	}

	sort.SliceStable(planned, func(a, b int) bool { return planned[a].first < planned[b].first })

	// Key columns share the fact with measures and the two stamp columns.
	taken := map[string]bool{opt.RecordIDColumn: true, opt.ProvenanceColumn: true}
	for _, m := range measures {
		taken[m] = true
	}
	dims := make([]*Dimension, len(planned))
	for i, pd := range planned {
		pd.KeyColumn = pd.Name + "_id"
		if taken[pd.KeyColumn] {
			return nil, nil, &dataset.Error{Table: pd.Name, Column: pd.KeyColumn,
				Err: fmt.Errorf("%w: key column name collides", dataset.ErrSchemaMismatch)}
		}
		taken[pd.KeyColumn] = true
		pd.index = make(map[string]int)
		dims[i] = pd.Dimension
	}
	return dims, measures, nil
}
