// Package impute fills missing cells of the real table so every later stage
// sees a complete rectangle.
package impute

import (
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"synthetl/internal/dataset"
	"synthetl/internal/profile"
)

// Scale constrains numeric columns to a discrete rating scale such as a 1..5
// Likert item. Columns are listed explicitly or selected by name prefix.
type Scale struct {
	Columns []string
	Prefix  string
	Min     float64
	Max     float64
}

func (s Scale) matches(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return s.Prefix != "" && strings.HasPrefix(col, s.Prefix)
}

// Midpoint is the fill for a scaled column without any valid value.
func (s Scale) Midpoint() float64 { return (s.Min + s.Max) / 2 }

func (s Scale) valid(f float64) bool {
	return f >= s.Min && f <= s.Max && f == math.Trunc(f)
}

type Options struct {
	// Required columns must be present in the input.
	Required []string

	// Sentinel overrides the profile's missing-value label.
	Sentinel string

	// Scales lists constrained numeric columns. The first matching scale wins.
	Scales []Scale
}

// Impute returns a copy of t with no missing cells.
//
//   - categorical: missing becomes the sentinel, present values become text
//   - numeric: missing becomes the column median
//   - numeric on a Scale: missing becomes a uniform draw from the distinct valid
//     values observed in that column, or the scale midpoint if there are none
//
// Numeric output cells are float64. rng is only consumed by scaled columns,
// which are visited in column order and then row order. A scaled column
// without a single value must be declared in profile.Options.Numeric, or the
// profile classifies it as categorical and it receives the sentinel.
func Impute(t dataset.Table, p *profile.Profile, opt Options, rng *rand.Rand) (dataset.Table, error) {
	for _, c := range opt.Required {
		if !t.Has(c) {
			return dataset.Table{}, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
		}
	}

	sentinel := opt.Sentinel
	if sentinel == "" {
		sentinel = p.Sentinel()
	}

	out := dataset.Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i := range t.Rows {
		out.Rows[i] = make([]any, len(t.Columns))
	}

	for j, name := range t.Columns {
		col, ok := p.Column(name)
		if !ok {
			return dataset.Table{}, dataset.ColumnError(name, dataset.ErrSchemaMismatch)
		}

		if col.Kind == profile.Categorical {
			for i, r := range t.Rows {
				if dataset.IsMissing(r[j]) {
					out.Rows[i][j] = sentinel
				} else {
					out.Rows[i][j] = dataset.Text(r[j])
				}
			}
			continue
		}

		scale, scaled := ScaleFor(opt.Scales, name)
		var pool []float64
		if scaled {
			pool = validValues(t, j, scale)
		}

		for i, r := range t.Rows {
			if f, ok := dataset.AsFloat(r[j]); ok {
				out.Rows[i][j] = f
				continue
			}
			switch {
			case !scaled:
				out.Rows[i][j] = col.Median
			case len(pool) == 0:
				out.Rows[i][j] = scale.Midpoint()
			default:
				out.Rows[i][j] = pool[rng.IntN(len(pool))]
			}
		}
	}

	return out, nil
}

// ScaleFor returns the first scale that matches col.
func ScaleFor(scales []Scale, col string) (Scale, bool) {
	for _, s := range scales {
		if s.matches(col) {
			return s, true
		}
	}
	return Scale{}, false
}

// validValues returns the sorted distinct on-scale values of column j.
func validValues(t dataset.Table, j int, s Scale) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, r := range t.Rows {
		f, ok := dataset.AsFloat(r[j])
		if !ok || !s.valid(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Float64s(out)
	return out
}
