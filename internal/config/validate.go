package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline. Path is a dotted JSON path into
// the job file, e.g. "augment.correlation_groups[1].min".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var storageKinds = map[string]bool{
	"": true, "none": true, "postgres": true, "sqlite": true, "mssql": true, "csvdir": true,
}

// ValidatePipeline checks p without touching the input file or the database.
// It reports every problem it finds rather than stopping at the first.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	errf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		warnf("job", "job name is empty; metrics will use the default job")
	}

	// source
	switch p.Source.Kind {
	case "file":
	case "":
		errf("source.kind", "required")
	default:
		errf("source.kind", "unsupported kind %q (want file)", p.Source.Kind)
	}
	switch strings.ToLower(p.Source.Format) {
	case "csv", "json":
	case "":
		errf("source.format", "required")
	default:
		errf("source.format", "unsupported format %q (want csv or json)", p.Source.Format)
	}
	if p.Source.File == nil || strings.TrimSpace(p.Source.File.Path) == "" {
		errf("source.file.path", "required")
	}

	// augment
	a := p.Augment
	if a.ScaleFactor != nil && *a.ScaleFactor < 0 {
		errf("augment.scale_factor", "must be >= 0, got %d", *a.ScaleFactor)
	}
	if a.NoiseFraction != nil && *a.NoiseFraction < 0 {
		errf("augment.noise_fraction_of_stddev", "must be >= 0, got %g", *a.NoiseFraction)
	}
	if a.CovarianceScale != nil && *a.CovarianceScale < 0 {
		errf("augment.covariance_scale", "must be >= 0, got %g", *a.CovarianceScale)
	}
	if a.ClipWidth != nil && *a.ClipWidth <= 0 {
		errf("augment.clip_width_in_stddevs", "must be > 0, got %g", *a.ClipWidth)
	}
	if a.RoundDecimals != nil && *a.RoundDecimals < 0 {
		errf("augment.round_decimals", "must be >= 0, got %d", *a.RoundDecimals)
	}
	if a.RandomSeed == nil {
		warnf("augment.random_seed", "not set; a random seed will be drawn and logged")
	}

	for _, col := range sortedKeys(a.ExtendedDomains) {
		if len(a.ExtendedDomains[col]) == 0 {
			errf("augment.extended_categorical_domains."+col, "domain must not be empty")
		}
	}
	for _, col := range sortedKeys(a.DateRanges) {
		d := a.DateRanges[col]
		path := "augment.date_ranges." + col
		layout := d.Layout
		if layout == "" {
			layout = time.DateOnly
		}
		if _, err := time.Parse(layout, d.Start); err != nil {
			errf(path+".start", "does not match layout %q: %v", layout, err)
		}
		if d.Days <= 0 {
			errf(path+".days", "must be > 0, got %d", d.Days)
		}
		if _, ok := a.ExtendedDomains[col]; ok {
			errf(path, "column also has an extended categorical domain")
		}
	}

	for i, s := range a.Scales {
		path := fmt.Sprintf("augment.scales[%d]", i)
		if len(s.Columns) == 0 && s.Prefix == "" {
			errf(path, "needs columns or a prefix")
		}
		if s.Min > s.Max {
			errf(path, "min %g > max %g", s.Min, s.Max)
		}
	}

	groupNames := make(map[string]bool)
	groupOf := make(map[string]string)
	for i, g := range a.CorrelationGroups {
		path := fmt.Sprintf("augment.correlation_groups[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errf(path+".name", "required")
		} else if groupNames[g.Name] {
			errf(path+".name", "duplicate group %q", g.Name)
		}
		groupNames[g.Name] = true
		if len(g.Columns) == 0 && g.Prefix == "" {
			errf(path, "needs columns or a prefix")
		}
		for _, c := range g.Columns {
			if other, ok := groupOf[c]; ok {
				warnf(path+".columns", "column %q already belongs to group %q; it is skipped here", c, other)
				continue
			}
			groupOf[c] = g.Name
		}
		if (g.Min == nil) != (g.Max == nil) {
			errf(path, "min and max must be set together")
		} else if g.Min != nil && *g.Min > *g.Max {
			errf(path, "min %g > max %g", *g.Min, *g.Max)
		}
	}

	for _, col := range sortedKeys(a.ExtendedDomains) {
		path := "augment.extended_categorical_domains." + col
		if scaleCovers(a.Scales, col) {
			errf(path, "column is on a rating scale and is numeric")
		}
		if g, ok := groupOf[col]; ok {
			errf(path, "column belongs to correlation group %q and is numeric", g)
		}
	}

	// normalize
	n := p.Normalize
	switch n.KeyStrategy {
	case "", "uuid", "sequence":
	default:
		errf("normalize.key_strategy", "unsupported strategy %q (want uuid or sequence)", n.KeyStrategy)
	}
	if n.KeyLength < 0 || n.KeyLength > 32 {
		errf("normalize.key_length", "must be within 0..32, got %d", n.KeyLength)
	}
	if n.IDWidth < 0 {
		errf("normalize.id_width", "must be >= 0, got %d", n.IDWidth)
	}
	dimNames := make(map[string]bool)
	claimed := make(map[string]string)
	for i, g := range n.DimensionGroups {
		path := fmt.Sprintf("normalize.dimension_groups[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errf(path+".name", "required")
		} else if dimNames[g.Name] {
			errf(path+".name", "duplicate dimension %q", g.Name)
		}
		dimNames[g.Name] = true
		if len(g.Columns) == 0 {
			errf(path+".columns", "required")
		}
		for _, c := range g.Columns {
			if other, ok := claimed[c]; ok {
				errf(path+".columns", "column %q already belongs to dimension %q", c, other)
				continue
			}
			claimed[c] = g.Name
		}
	}
	if lf := n.LongFormat; lf != nil && len(lf.Columns) == 0 {
		warnf("normalize.long_format.columns", "empty; no long-format table will be produced")
	}

	// storage
	kind := strings.ToLower(p.Storage.Kind)
	if !storageKinds[kind] {
		errf("storage.kind", "unsupported kind %q", p.Storage.Kind)
	} else if kind != "" && kind != "none" && strings.TrimSpace(p.Storage.DSN) == "" {
		errf("storage.dsn", "required for storage kind %q", p.Storage.Kind)
	}
	if p.Storage.BatchSize < 0 {
		errf("storage.batch_size", "must be >= 0, got %d", p.Storage.BatchSize)
	}

	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scaleCovers(scales []Scale, col string) bool {
	for _, s := range scales {
		if s.Prefix != "" && strings.HasPrefix(col, s.Prefix) {
			return true
		}
		for _, c := range s.Columns {
			if c == col {
				return true
			}
		}
	}
	return false
}
