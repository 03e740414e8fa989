package config

import (
	"fmt"
	"time"

	"synthetl/internal/combine"
	"synthetl/internal/impute"
	"synthetl/internal/normalize"
	"synthetl/internal/pipeline"
	"synthetl/internal/profile"
	"synthetl/internal/synth"
)

// PipelineOptions converts the augment and normalize sections into engine
// options. Unset numeric fields keep the engine defaults. Call
// ValidatePipeline first; this only reports what it cannot convert.
func (p Pipeline) PipelineOptions() (pipeline.Options, error) {
	a, n := p.Augment, p.Normalize

	so := synth.DefaultOptions()
	if a.ScaleFactor != nil {
		so.Scale = *a.ScaleFactor
	}
	if a.NoiseFraction != nil {
		so.NoiseFraction = *a.NoiseFraction
	}
	if a.CovarianceScale != nil {
		so.CovarianceScale = *a.CovarianceScale
	}
	if a.ClipWidth != nil {
		so.ClipWidth = *a.ClipWidth
	}
	if a.RoundDecimals != nil {
		so.RoundDecimals = *a.RoundDecimals
	}
	if len(a.ExtendedDomains) > 0 {
		so.ExtendedDomains = make(map[string][]string, len(a.ExtendedDomains))
		for col, dom := range a.ExtendedDomains {
			so.ExtendedDomains[col] = append([]string(nil), dom...)
		}
	}
	if len(a.DateRanges) > 0 {
		so.DateRanges = make(map[string]synth.DateRange, len(a.DateRanges))
		for col, d := range a.DateRanges {
			layout := d.Layout
			if layout == "" {
				layout = synth.DefaultDateLayout
			}
			start, err := time.Parse(layout, d.Start)
			if err != nil {
				return pipeline.Options{}, fmt.Errorf("augment.date_ranges.%s: %w", col, err)
			}
			so.DateRanges[col] = synth.DateRange{Start: start, Days: d.Days, Layout: layout}
		}
	}

	scales := make([]impute.Scale, 0, len(a.Scales))
	for _, s := range a.Scales {
		scales = append(scales, impute.Scale{Columns: s.Columns, Prefix: s.Prefix, Min: s.Min, Max: s.Max})
	}

	groups := make([]profile.GroupSpec, 0, len(a.CorrelationGroups))
	for _, g := range a.CorrelationGroups {
		spec := profile.GroupSpec{Name: g.Name, Columns: g.Columns, Prefix: g.Prefix, Discrete: g.Discrete}
		if g.Min != nil && g.Max != nil {
			spec.Bounds = &profile.Bounds{Min: *g.Min, Max: *g.Max}
		}
		groups = append(groups, spec)
	}

	dims := make([]normalize.DimensionGroup, 0, len(n.DimensionGroups))
	for _, g := range n.DimensionGroups {
		dims = append(dims, normalize.DimensionGroup{Name: g.Name, Columns: g.Columns})
	}

	opt := pipeline.Options{
		Seed:    a.RandomSeed,
		Profile: profile.Options{Categorical: a.CategoricalColumns, Sentinel: a.Sentinel},
		Impute:  impute.Options{Required: a.RequiredColumns, Sentinel: a.Sentinel, Scales: scales},
		Groups:  groups,
		Synth:   so,
		Combine: combine.Options{
			RecordIDColumn:   n.RecordIDColumn,
			ProvenanceColumn: n.ProvenanceColumn,
			IDWidth:          n.IDWidth,
		},
		Normalize: normalize.Options{
			RecordIDColumn:   n.RecordIDColumn,
			ProvenanceColumn: n.ProvenanceColumn,
			Groups:           dims,
			Keys:             normalize.KeyStrategy(n.KeyStrategy),
			KeyLength:        n.KeyLength,
		},
	}
	if lf := n.LongFormat; lf != nil && len(lf.Columns) > 0 {
		opt.Long = &pipeline.LongFormat{Columns: lf.Columns, VarName: lf.VarName, ValueName: lf.ValueName}
	}
	return opt, nil
}
