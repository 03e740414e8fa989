package normalize

import (
	"fmt"
	"strings"

	"synthetl/internal/dataset"
)

func (d *Dimension) naturalKey(row []any) (string, []string) {
	vals := make([]string, len(d.positions))
	for i, j := range d.positions {
		vals[i] = dataset.Text(row[j])
	}
	return strings.Join(vals, tupleSep), vals
}

// build collects distinct natural values in first-seen order and mints a key
// for each.
func (d *Dimension) build(t dataset.Table, m *keyMinter) error {
	for _, r := range t.Rows {
		k, vals := d.naturalKey(r)
		if _, ok := d.index[k]; ok {
			continue
		}
		key, err := m.next(len(d.Entries))
		if err != nil {
			return &dataset.Error{Table: d.Name, Err: err}
		}
		d.index[k] = len(d.Entries)
		d.Entries = append(d.Entries, Entry{Values: vals, Key: key})
	}
	return nil
}

func buildFact(t dataset.Table, dims []*Dimension, measures []string, opt Options) (Fact, error) {
	f := Fact{Measures: append([]string(nil), measures...)}
	for _, d := range dims {
		f.KeyColumns = append(f.KeyColumns, d.KeyColumn)
	}

	measureIdx := make([]int, len(measures))
	for i, c := range measures {
		measureIdx[i] = t.Index(c)
	}
	idIdx := t.Index(opt.RecordIDColumn)
	provIdx := t.Index(opt.ProvenanceColumn)

	f.Columns = make([]string, 0, len(dims)+len(measures)+2)
	f.Columns = append(f.Columns, f.KeyColumns...)
	f.Columns = append(f.Columns, measures...)
	f.Columns = append(f.Columns, opt.RecordIDColumn, opt.ProvenanceColumn)
	f.Rows = make([][]any, len(t.Rows))

	for i, r := range t.Rows {
		row := make([]any, 0, len(f.Columns))
		for _, d := range dims {
			k, vals := d.naturalKey(r)
			e, ok := d.index[k]
			if !ok {
				return Fact{}, &dataset.Error{
					Table:  d.Name,
					Column: d.KeyColumn,
					Err:    fmt.Errorf("%w: record %v value %q has no key", dataset.ErrReferentialIntegrity, r[idIdx], vals),
				}
			}
			row = append(row, d.Entries[e].Key)
		}
		for _, j := range measureIdx {
			row = append(row, r[j])
		}
		row = append(row, r[idIdx], r[provIdx])
		f.Rows[i] = row
	}
	return f, nil
}
