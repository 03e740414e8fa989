package export

import (
	"fmt"

	"synthetl/internal/dataset"
	"synthetl/internal/ident"
	"synthetl/internal/normalize"
	"synthetl/internal/storage"
	"synthetl/internal/transformer"
)

// tablePlan is one table to create and load.
type tablePlan struct {
	Spec    storage.TableSpec
	Rows    [][]any
	Columns []string // columns of Rows; the hash column is appended on load
	Dedupe  []string
}

// Plan is the ordered set of tables one Result is exported to: dimensions
// first, then the fact table, then the optional long table.
type Plan struct {
	Dimensions []tablePlan
	Fact       tablePlan
	Long       *tablePlan

	// Hash is set when fact rows carry a row hash.
	Hash *transformer.Hasher
}

// Specs returns every table spec in creation order.
func (p Plan) Specs() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, len(p.Dimensions)+2)
	for _, d := range p.Dimensions {
		out = append(out, d.Spec)
	}
	out = append(out, p.Fact.Spec)
	if p.Long != nil {
		out = append(out, p.Long.Spec)
	}
	return out
}

// BuildPlan derives table specs for res.
//
// Table names are prefix + snake_case of the dimension name, "fact" and
// "long", made unique in that order. Column names are kept as they are;
// every backend quotes identifiers.
func BuildPlan(res *normalize.Result, prefix string, rowHash bool) (Plan, error) {
	if res == nil {
		return Plan{}, fmt.Errorf("export: nil result")
	}

	logical := make([]string, 0, len(res.Dimensions)+2)
	for _, d := range res.Dimensions {
		logical = append(logical, d.Name)
	}
	logical = append(logical, "fact", "long")
	names := ident.Unique(logical)
	for i := range names {
		names[i] = prefix + names[i]
	}

	var p Plan
	dimTable := make(map[string]string, len(res.Dimensions))
	for i, d := range res.Dimensions {
		t := d.Table()
		spec := storage.TableSpec{
			Name:       names[i],
			Kind:       storage.KindDimension,
			PrimaryKey: []string{d.KeyColumn},
			Columns:    []storage.ColumnSpec{{Name: d.KeyColumn, Type: storage.TypeKey}},
		}
		for _, c := range d.Columns {
			spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: c, Type: storage.TypeText, Nullable: true})
		}
		dimTable[d.KeyColumn] = names[i]
		p.Dimensions = append(p.Dimensions, tablePlan{
			Spec:    spec,
			Rows:    t.Rows,
			Columns: t.Columns,
			Dedupe:  []string{d.KeyColumn},
		})
	}

	fact := res.Fact
	if len(fact.Columns) < 2 {
		return Plan{}, &dataset.Error{Table: "fact", Err: fmt.Errorf("%w: fact table has no record id and provenance columns", dataset.ErrSchemaMismatch)}
	}
	idCol := fact.Columns[len(fact.Columns)-2]
	provCol := fact.Columns[len(fact.Columns)-1]

	fspec := storage.TableSpec{
		Name:       names[len(res.Dimensions)],
		Kind:       storage.KindFact,
		PrimaryKey: []string{idCol},
	}
	for _, k := range fact.KeyColumns {
		fspec.Columns = append(fspec.Columns, storage.ColumnSpec{
			Name:       k,
			Type:       storage.TypeKey,
			References: &storage.Reference{Table: dimTable[k], Column: k},
		})
	}
	for _, m := range fact.Measures {
		fspec.Columns = append(fspec.Columns, storage.ColumnSpec{Name: m, Type: storage.TypeReal, Nullable: true})
	}
	fspec.Columns = append(fspec.Columns,
		storage.ColumnSpec{Name: idCol, Type: storage.TypeText},
		storage.ColumnSpec{Name: provCol, Type: storage.TypeInteger},
	)

	p.Fact = tablePlan{Spec: fspec, Rows: fact.Rows, Columns: fact.Columns, Dedupe: []string{idCol}}

	if rowHash {
		hashCol := transformer.DefaultHashField
		if _, taken := fspec.Column(hashCol); taken {
			return Plan{}, dataset.ColumnError(hashCol, fmt.Errorf("%w: row hash column collides with a fact column", dataset.ErrSchemaMismatch))
		}
		p.Fact.Spec.Columns = append(p.Fact.Spec.Columns, storage.ColumnSpec{Name: hashCol, Type: storage.TypeText})
		p.Fact.Spec.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: []string{hashCol}}}
		p.Fact.Dedupe = []string{hashCol}

		h, err := transformer.NewHasher(p.Fact.Spec.ColumnNames(), transformer.HashSpec{
			Fields:      fact.Columns,
			TargetField: hashCol,
			TrimSpace:   true,
		})
		if err != nil {
			return Plan{}, err
		}
		p.Hash = h
	}

	if res.Long != nil && len(res.Long.Columns) == 3 {
		lc := res.Long.Columns
		p.Long = &tablePlan{
			Spec: storage.TableSpec{
				Name:       names[len(res.Dimensions)+1],
				Kind:       storage.KindLong,
				PrimaryKey: []string{lc[0], lc[1]},
				Columns: []storage.ColumnSpec{
					{Name: lc[0], Type: storage.TypeText, References: &storage.Reference{Table: fspec.Name, Column: idCol}},
					{Name: lc[1], Type: storage.TypeText},
					{Name: lc[2], Type: storage.TypeReal, Nullable: true},
				},
			},
			Rows:    res.Long.Rows,
			Columns: lc,
			Dedupe:  []string{lc[0], lc[1]},
		}
	}

	for _, s := range p.Specs() {
		if err := s.Validate(); err != nil {
			return Plan{}, err
		}
	}
	return p, nil
}
