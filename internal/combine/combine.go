// Package combine stacks real and synthetic rows into one table with a
// provenance flag and an origin-prefixed record identifier.
package combine

import (
	"fmt"

	"synthetl/internal/dataset"
)

const (
	DefaultRecordIDColumn   = "RecordID"
	DefaultProvenanceColumn = "is_synthetic"
	DefaultIDWidth          = 7

	RealPrefix      = "REAL_"
	SyntheticPrefix = "SYNTH_"
)

type Options struct {
	RecordIDColumn   string
	ProvenanceColumn string
	IDWidth          int
}

func (o Options) withDefaults() Options {
	if o.RecordIDColumn == "" {
		o.RecordIDColumn = DefaultRecordIDColumn
	}
	if o.ProvenanceColumn == "" {
		o.ProvenanceColumn = DefaultProvenanceColumn
	}
	if o.IDWidth <= 0 {
		o.IDWidth = DefaultIDWidth
	}
	return o
}

// RecordID formats the identifier of the i-th row of one origin.
func RecordID(synthetic bool, i, width int) string {
	prefix := RealPrefix
	if synthetic {
		prefix = SyntheticPrefix
	}
	return fmt.Sprintf("%s%0*d", prefix, width, i)
}

// Combine returns base rows followed by synth rows. Both must have the same
// columns in the same order. Two columns are appended: the record id and the
// provenance flag (0 real, 1 synthetic). Indices are zero-based within each
// origin, so REAL_ and SYNTH_ ids never collide.
func Combine(base, synth dataset.Table, opt Options) (dataset.Table, error) {
	opt = opt.withDefaults()

	if opt.RecordIDColumn == opt.ProvenanceColumn {
		return dataset.Table{}, dataset.ColumnError(opt.RecordIDColumn,
			fmt.Errorf("%w: record id and provenance columns share a name", dataset.ErrSchemaMismatch))
	}
	for _, c := range []string{opt.RecordIDColumn, opt.ProvenanceColumn} {
		if base.Has(c) {
			return dataset.Table{}, dataset.ColumnError(c,
				fmt.Errorf("%w: column already exists in input", dataset.ErrSchemaMismatch))
		}
	}
	if err := sameColumns(base, synth); err != nil {
		return dataset.Table{}, err
	}

	width := len(base.Columns)
	out := dataset.Table{
		Columns: append(append([]string(nil), base.Columns...), opt.RecordIDColumn, opt.ProvenanceColumn),
		Rows:    make([][]any, 0, len(base.Rows)+len(synth.Rows)),
	}

	stamp := func(rows [][]any, synthetic bool) {
		flag := 0
		if synthetic {
			flag = 1
		}
		for i, r := range rows {
			row := make([]any, width+2)
			copy(row, r)
			row[width] = RecordID(synthetic, i, opt.IDWidth)
			row[width+1] = flag
			out.Rows = append(out.Rows, row)
		}
	}
	stamp(base.Rows, false)
	stamp(synth.Rows, true)

	return out, nil
}

func sameColumns(base, synth dataset.Table) error {
	if len(base.Columns) != len(synth.Columns) {
		return fmt.Errorf("%w: real table has %d columns, synthetic has %d",
			dataset.ErrSchemaMismatch, len(base.Columns), len(synth.Columns))
	}
	for i, c := range base.Columns {
		if synth.Columns[i] != c {
			return dataset.ColumnError(c,
				fmt.Errorf("%w: synthetic column %d is %q", dataset.ErrSchemaMismatch, i, synth.Columns[i]))
		}
	}
	return nil
}
