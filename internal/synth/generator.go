// Package synth produces synthetic rows from an imputed real table by
// resampling with replacement and perturbing the sampled values.
//
// Every random draw comes from the *rand.Rand passed to Generate, and the
// draws happen in a fixed order:
//
//  1. the sampled base row index of every synthetic row
//  2. ungrouped numeric columns, column by column in input order
//  3. correlation groups in the order given
//  4. categorical, extended-domain and date columns in input order
//
// so one seed always yields the same table.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"synthetl/internal/dataset"
	"synthetl/internal/profile"
)

// Generator is safe to reuse; it holds only configuration.
type Generator struct {
	Options Options
}

// New returns a Generator for opt.
func New(opt Options) *Generator { return &Generator{Options: opt} }

// Generate returns Scale×|base| synthetic rows with the columns of base.
//
// base must be the imputed real table, p its profile and groups the
// correlation groups built from it. Statistics are never taken from the
// rows produced here.
func (g *Generator) Generate(base dataset.Table, p *profile.Profile, groups []profile.Group, rng *rand.Rand) (dataset.Table, error) {
	opt := g.Options
	if err := opt.Validate(); err != nil {
		return dataset.Table{}, err
	}

	plan, err := planColumns(base, p, groups, opt)
	if err != nil {
		return dataset.Table{}, err
	}

	out := dataset.New(base.Columns)
	n := opt.Scale * len(base.Rows)
	if n == 0 {
		return out, nil
	}

	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.IntN(len(base.Rows))
	}

	out.Rows = make([][]any, n)
	for i := range out.Rows {
		out.Rows[i] = make([]any, len(base.Columns))
	}

	for _, c := range plan.singletons {
		for i, src := range sample {
			out.Rows[i][c.index] = c.perturb(base.Rows[src][c.index], opt, rng)
		}
	}

	for _, gp := range plan.groups {
		gp.fill(out.Rows, rng)
	}

	for _, c := range plan.redraws {
		for i := range out.Rows {
			out.Rows[i][c.index] = c.draw(rng)
		}
	}

	return out, nil
}

// singleton is an ungrouped numeric column (or a member of an empty group).
type singleton struct {
	index    int
	mean     float64
	stddev   float64
	bounds   *profile.Bounds
	discrete bool
}

func (c singleton) perturb(v any, opt Options, rng *rand.Rand) float64 {
	f, ok := dataset.AsFloat(v)
	if !ok {
		f = c.mean
	}
	f += rng.NormFloat64() * opt.NoiseFraction * c.stddev

	w := opt.ClipWidth * c.stddev
	lim := profile.Bounds{Min: c.mean - w, Max: c.mean + w}
	if c.bounds != nil {
		lim = profile.Bounds{Min: c.bounds.Clip(lim.Min), Max: c.bounds.Clip(lim.Max)}
	}

	decimals := opt.RoundDecimals
	if c.discrete {
		decimals = 0
	}
	return roundWithin(lim.Clip(f), lim, decimals)
}

// redraw replaces a column with a uniform pick from a fixed list, or with a
// random date.
type redraw struct {
	index  int
	domain []string
	dates  *DateRange
}

func (c redraw) draw(rng *rand.Rand) any {
	if c.dates != nil {
		d := c.dates.Start.AddDate(0, 0, rng.IntN(c.dates.Days))
		return d.Format(c.dates.layout())
	}
	return c.domain[rng.IntN(len(c.domain))]
}

type columnPlan struct {
	singletons []singleton
	groups     []*groupSampler
	redraws    []redraw
}

func planColumns(base dataset.Table, p *profile.Profile, groups []profile.Group, opt Options) (columnPlan, error) {
	var plan columnPlan

	emptyMember := make(map[string]profile.Group)
	grouped := make(map[string]bool)
	for _, g := range groups {
		if g.Empty {
			for _, c := range g.Columns {
				emptyMember[c] = g
			}
			continue
		}
		gs, err := newGroupSampler(base, p, g, opt)
		if err != nil {
			return plan, err
		}
		for _, c := range g.Columns {
			grouped[c] = true
		}
		plan.groups = append(plan.groups, gs)
	}

	for j, name := range base.Columns {
		col, ok := p.Column(name)
		if !ok {
			return plan, dataset.ColumnError(name, dataset.ErrSchemaMismatch)
		}

		dates, hasDates := opt.DateRanges[name]
		ext := opt.ExtendedDomains[name]
		overridden := hasDates || len(ext) > 0
		if overridden && grouped[name] {
			return plan, dataset.ColumnError(name, fmt.Errorf("column is in a correlation group and also has a domain override"))
		}

		switch {
		case hasDates:
			d := dates
			plan.redraws = append(plan.redraws, redraw{index: j, dates: &d})
		case len(ext) > 0:
			if col.Kind == profile.Numeric {
				return plan, dataset.ColumnError(name, fmt.Errorf("%w: extended domain on a numeric column", dataset.ErrSchemaMismatch))
			}
			plan.redraws = append(plan.redraws, redraw{index: j, domain: append([]string(nil), ext...)})
		case grouped[name]:
		case col.Kind == profile.Numeric:
			s := singleton{index: j, mean: col.Mean, stddev: col.StdDev}
			if g, ok := emptyMember[name]; ok {
				s.bounds = g.Bounds
				s.discrete = g.Discrete
			}
			plan.singletons = append(plan.singletons, s)
		default:
			plan.redraws = append(plan.redraws, redraw{index: j, domain: col.Domain})
		}
	}
	return plan, nil
}

func round(f float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(f*pow) / pow
}

// roundWithin rounds a value already clipped into b, stepping inward when
// rounding would leave b. When b holds no value of that precision the clipped
// value is returned unrounded.
func roundWithin(f float64, b profile.Bounds, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	r := round(f, decimals)
	switch {
	case r > b.Max:
		r = math.Floor(b.Max*pow) / pow
	case r < b.Min:
		r = math.Ceil(b.Min*pow) / pow
	}
	if r < b.Min || r > b.Max {
		return f
	}
	return r
}
