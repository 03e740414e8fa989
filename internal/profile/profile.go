// Package profile classifies the columns of the real (base) table and computes
// the summary statistics every later stage reads.
//
// The profile is built once, from real rows only, before any synthetic row
// exists. Nothing downstream re-infers a column's kind: the imputer, the
// generator and the normalizer all consult the same *Profile.
package profile

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"synthetl/internal/dataset"
)

// DefaultSentinel is the label that replaces missing categorical values.
const DefaultSentinel = "Unknown"

// stdDevFloor replaces a zero or undefined standard deviation so noise
// generation and clipping stay well defined.
const stdDevFloor = 1.0

// Kind is the coarse type of a column.
type Kind int

const (
	Categorical Kind = iota
	Numeric
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	default:
		return "categorical"
	}
}

// Column describes one input column.
type Column struct {
	Name  string
	Kind  Kind
	Count int // non-missing cells
	Nulls int

	// Numeric columns.
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64

	// Categorical columns: distinct values in first-seen order. When the
	// column had missing cells the sentinel is part of the domain, since the
	// imputed table will contain it.
	Domain []string

	Degenerate bool
	Fallback   string
}

// Options tune classification.
type Options struct {
	// Categorical forces the listed columns to be categorical even when every
	// value parses as a number (codes, years used as labels, ...).
	Categorical []string

	// Sentinel replaces missing categorical values. Defaults to DefaultSentinel.
	Sentinel string

	// Numeric declares columns that are numeric even when they hold no value
	// at all, such as rating items and correlation group members. The value
	// is the center an empty column is profiled with. A declared column whose
	// values do not all parse is still categorical.
	Numeric map[string]float64
}

// Warning reports a degenerate column and the fallback that was applied.
type Warning struct {
	Column   string
	Reason   string
	Fallback string
}

func (w Warning) String() string {
	return fmt.Sprintf("column=%s reason=%q fallback=%q", w.Column, w.Reason, w.Fallback)
}

// Profile is the immutable set of column descriptors for one base table.
type Profile struct {
	columns  []Column
	index    map[string]int
	sentinel string
}

// Build profiles every column of t.
//
// A column is numeric when every non-missing value coerces losslessly to a
// number; everything else is categorical. Degenerate columns never fail the
// build: they get a fallback and a Warning.
func Build(t dataset.Table, opt Options) (*Profile, []Warning) {
	sentinel := opt.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}

	forced := make(map[string]bool, len(opt.Categorical))
	for _, c := range opt.Categorical {
		forced[c] = true
	}

	p := &Profile{
		columns:  make([]Column, 0, len(t.Columns)),
		index:    make(map[string]int, len(t.Columns)),
		sentinel: sentinel,
	}
	var warns []Warning

	for j, name := range t.Columns {
		var (
			nulls      int
			seen       bool
			allNumeric = true
			nums       []float64
		)

		for _, r := range t.Rows {
			v := r[j]
			if dataset.IsMissing(v) {
				nulls++
				continue
			}
			seen = true
			if !allNumeric {
				continue
			}
			f, ok := dataset.AsFloat(v)
			if !ok {
				allNumeric = false
				nums = nil
				continue
			}
			nums = append(nums, f)
		}

		center, declared := opt.Numeric[name]
		var col Column
		switch {
		case forced[name]:
			col = categoricalColumn(name, t, j, nulls, sentinel)
		case seen && allNumeric:
			col = numericColumn(name, nums, nulls)
		case !seen && declared:
			col = emptyNumericColumn(name, nulls, center)
		default:
			col = categoricalColumn(name, t, j, nulls, sentinel)
		}
		if col.Degenerate {
			warns = append(warns, Warning{Column: name, Reason: degenerateReason(col), Fallback: col.Fallback})
		}

		p.index[name] = len(p.columns)
		p.columns = append(p.columns, col)
	}

	return p, warns
}

func numericColumn(name string, nums []float64, nulls int) Column {
	col := Column{
		Name:   name,
		Kind:   Numeric,
		Count:  len(nums),
		Nulls:  nulls,
		Mean:   stat.Mean(nums, nil),
		Median: median(nums),
		Min:    floats.Min(nums),
		Max:    floats.Max(nums),
	}

	sd := math.NaN()
	if len(nums) > 1 {
		sd = stat.StdDev(nums, nil)
	}
	if math.IsNaN(sd) || sd == 0 {
		col.StdDev = stdDevFloor
		col.Degenerate = true
		col.Fallback = fmt.Sprintf("stddev=%.1f", stdDevFloor)
	} else {
		col.StdDev = sd
	}
	return col
}

// emptyNumericColumn profiles a declared numeric column without values.
func emptyNumericColumn(name string, nulls int, center float64) Column {
	return Column{
		Name:       name,
		Kind:       Numeric,
		Nulls:      nulls,
		Mean:       center,
		Median:     center,
		Min:        center,
		Max:        center,
		StdDev:     stdDevFloor,
		Degenerate: true,
		Fallback:   fmt.Sprintf("mean=%g stddev=%.1f", center, stdDevFloor),
	}
}

func categoricalColumn(name string, t dataset.Table, j, nulls int, sentinel string) Column {
	col := Column{Name: name, Kind: Categorical, Nulls: nulls}

	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		if dataset.IsMissing(r[j]) {
			continue
		}
		col.Count++
		s := dataset.Text(r[j])
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		col.Domain = append(col.Domain, s)
	}

	if len(col.Domain) == 0 {
		col.Domain = []string{sentinel}
		col.Degenerate = true
		col.Fallback = "domain=[" + sentinel + "]"
		return col
	}
	if _, ok := seen[sentinel]; nulls > 0 && !ok {
		col.Domain = append(col.Domain, sentinel)
	}
	return col
}

func degenerateReason(c Column) string {
	if c.Kind == Categorical {
		return "empty domain"
	}
	if c.Count == 0 {
		return "no values"
	}
	if c.Count < 2 {
		return "fewer than two values"
	}
	return "zero variance"
}

// median averages the two middle order statistics for even counts.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Sentinel returns the missing-value label categorical columns use.
func (p *Profile) Sentinel() string { return p.sentinel }

// Has reports whether the profile describes column name.
func (p *Profile) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Column returns a copy of the descriptor for name.
func (p *Profile) Column(name string) (Column, bool) {
	i, ok := p.index[name]
	if !ok {
		return Column{}, false
	}
	return p.columns[i].clone(), true
}

// Columns returns copies of all descriptors in input column order.
func (p *Profile) Columns() []Column {
	out := make([]Column, len(p.columns))
	for i, c := range p.columns {
		out[i] = c.clone()
	}
	return out
}

// Names returns the profiled column names in input order.
func (p *Profile) Names() []string {
	out := make([]string, len(p.columns))
	for i, c := range p.columns {
		out[i] = c.Name
	}
	return out
}

// Numeric returns the numeric column names in input order.
func (p *Profile) Numeric() []string { return p.namesOf(Numeric) }

// Categorical returns the categorical column names in input order.
func (p *Profile) Categorical() []string { return p.namesOf(Categorical) }

// KindOf returns the kind of column name. Unknown columns report Categorical
// and ok=false.
func (p *Profile) KindOf(name string) (Kind, bool) {
	i, ok := p.index[name]
	if !ok {
		return Categorical, false
	}
	return p.columns[i].Kind, true
}

func (p *Profile) namesOf(k Kind) []string {
	var out []string
	for _, c := range p.columns {
		if c.Kind == k {
			out = append(out, c.Name)
		}
	}
	return out
}

func (c Column) clone() Column {
	c.Domain = append([]string(nil), c.Domain...)
	return c
}
