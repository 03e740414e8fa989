package profile

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"synthetl/internal/dataset"
)

// Bounds is a closed value range [Min, Max].
type Bounds struct {
	Min float64
	Max float64
}

// Clip clamps v into b.
func (b Bounds) Clip(v float64) float64 {
	return math.Min(math.Max(v, b.Min), b.Max)
}

// GroupSpec names a set of numeric columns that are sampled jointly.
// Members are either listed in Columns or selected by name Prefix.
type GroupSpec struct {
	Name     string
	Columns  []string
	Prefix   string
	Bounds   *Bounds
	Discrete bool
}

// Group is a resolved correlation group with statistics from real rows.
type Group struct {
	Name     string
	Columns  []string
	Mean     []float64
	Corr     *mat.SymDense
	Bounds   *Bounds
	Discrete bool

	// Empty is set when no complete real row existed for the members or a
	// member had no value at all; the generator then treats each member as
	// an independent column.
	Empty bool
}

// BuildGroups resolves specs against the profile and computes each group's
// mean vector and correlation matrix from t, which must be the imputed real
// table. Missing or undefined correlations become 0 and the diagonal is
// forced to 1, so a group with one real row yields the identity matrix.
//
// A listed column that is absent, or categorical with values, is a schema
// mismatch. A column already claimed by an earlier group is skipped with a
// warning. A group is Empty when a member has no real value at all, which
// includes every group of an empty table.
func BuildGroups(t dataset.Table, p *Profile, specs []GroupSpec) ([]Group, []Warning, error) {
	var (
		out     []Group
		warns   []Warning
		claimed = make(map[string]string)
	)

	for _, spec := range specs {
		cols, err := resolveMembers(p, spec)
		if err != nil {
			return nil, warns, err
		}

		members := cols[:0:0]
		for _, c := range cols {
			if owner, ok := claimed[c]; ok {
				warns = append(warns, Warning{
					Column:   c,
					Reason:   fmt.Sprintf("already in group %s", owner),
					Fallback: "skipped in group " + spec.Name,
				})
				continue
			}
			members = append(members, c)
		}
		if len(members) == 0 {
			warns = append(warns, Warning{
				Column:   spec.Name,
				Reason:   "group has no numeric members",
				Fallback: "group ignored",
			})
			continue
		}
		for _, c := range members {
			claimed[c] = spec.Name
		}

		g := Group{
			Name:     spec.Name,
			Columns:  members,
			Bounds:   spec.Bounds,
			Discrete: spec.Discrete,
		}
		if err := fillGroupStats(&g, t); err != nil {
			return nil, warns, err
		}
		for _, c := range members {
			if col, _ := p.Column(c); col.Count == 0 {
				g.Empty = true
			}
		}
		if g.Empty {
			warns = append(warns, Warning{
				Column:   spec.Name,
				Reason:   "no complete real rows for group",
				Fallback: "independent noise per member",
			})
		}
		out = append(out, g)
	}
	return out, warns, nil
}

func resolveMembers(p *Profile, spec GroupSpec) ([]string, error) {
	if len(spec.Columns) > 0 {
		for _, c := range spec.Columns {
			col, ok := p.Column(c)
			if !ok {
				return nil, &dataset.Error{Table: spec.Name, Column: c, Err: dataset.ErrSchemaMismatch}
			}
			if k := col.Kind; k != Numeric && col.Count > 0 {
				return nil, &dataset.Error{
					Table:  spec.Name,
					Column: c,
					Err:    fmt.Errorf("%w: group member is %s, want numeric", dataset.ErrSchemaMismatch, k),
				}
			}
		}
		return append([]string(nil), spec.Columns...), nil
	}

	var out []string
	if spec.Prefix == "" {
		return out, nil
	}
	for _, c := range p.Numeric() {
		if strings.HasPrefix(c, spec.Prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func fillGroupStats(g *Group, t dataset.Table) error {
	k := len(g.Columns)
	idx := make([]int, k)
	for i, c := range g.Columns {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return &dataset.Error{Table: g.Name, Column: c, Err: dataset.ErrSchemaMismatch}
		}
	}

	// Complete rows only.
	data := make([]float64, 0, len(t.Rows)*k)
	n := 0
	for _, r := range t.Rows {
		row := make([]float64, k)
		complete := true
		for i, j := range idx {
			f, ok := dataset.AsFloat(r[j])
			if !ok {
				complete = false
				break
			}
			row[i] = f
		}
		if !complete {
			continue
		}
		data = append(data, row...)
		n++
	}

	g.Mean = make([]float64, k)
	g.Corr = identity(k)
	if n == 0 {
		g.Empty = true
		return nil
	}

	x := mat.NewDense(n, k, data)
	col := make([]float64, n)
	for i := 0; i < k; i++ {
		mat.Col(col, i, x)
		g.Mean[i] = stat.Mean(col, nil)
	}
	if n < 2 {
		return nil
	}

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, x, nil)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			v := corr.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			g.Corr.SetSym(i, j, math.Max(-1, math.Min(1, v)))
		}
	}
	return nil
}

func identity(k int) *mat.SymDense {
	m := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}
