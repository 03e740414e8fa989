package synth

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultScale           = 300
	DefaultNoiseFraction   = 0.2
	DefaultCovarianceScale = 0.4
	DefaultClipWidth       = 3
	DefaultRoundDecimals   = 2
	DefaultDateLayout      = "2006-01-02"
)

// DateRange redraws a column as a uniformly random calendar day in
// [Start, Start+Days).
type DateRange struct {
	Start  time.Time
	Days   int
	Layout string
}

func (d DateRange) layout() string {
	if d.Layout == "" {
		return DefaultDateLayout
	}
	return d.Layout
}

// Options configures a Generator.
type Options struct {
	// Scale is the number of synthetic rows per real row.
	Scale int

	// NoiseFraction is the Gaussian noise standard deviation for ungrouped
	// numeric columns, as a fraction of the column's real standard deviation.
	NoiseFraction float64

	// CovarianceScale multiplies a group's correlation matrix to form the
	// covariance of its multivariate normal draw.
	CovarianceScale float64

	// ClipWidth bounds ungrouped values to mean ± ClipWidth·stddev.
	ClipWidth float64

	// RoundDecimals applies to continuous numeric output.
	RoundDecimals int

	// ExtendedDomains replaces the observed domain of a categorical column.
	ExtendedDomains map[string][]string

	// DateRanges replaces a column with random dates.
	DateRanges map[string]DateRange
}

// DefaultOptions returns the stock noise model.
func DefaultOptions() Options {
	return Options{
		Scale:           DefaultScale,
		NoiseFraction:   DefaultNoiseFraction,
		CovarianceScale: DefaultCovarianceScale,
		ClipWidth:       DefaultClipWidth,
		RoundDecimals:   DefaultRoundDecimals,
	}
}

// Validate rejects option values that would make generation ill-defined.
func (o Options) Validate() error {
	var errs []error
	if o.Scale < 0 {
		errs = append(errs, fmt.Errorf("scale must be >= 0, got %d", o.Scale))
	}
	if o.NoiseFraction < 0 {
		errs = append(errs, fmt.Errorf("noise fraction must be >= 0, got %g", o.NoiseFraction))
	}
	if o.CovarianceScale < 0 {
		errs = append(errs, fmt.Errorf("covariance scale must be >= 0, got %g", o.CovarianceScale))
	}
	if o.ClipWidth <= 0 {
		errs = append(errs, fmt.Errorf("clip width must be > 0, got %g", o.ClipWidth))
	}
	if o.RoundDecimals < 0 {
		errs = append(errs, fmt.Errorf("round decimals must be >= 0, got %d", o.RoundDecimals))
	}
	for col, d := range o.DateRanges {
		if d.Days <= 0 {
			errs = append(errs, fmt.Errorf("date range %s: days must be > 0", col))
		}
		if _, ok := o.ExtendedDomains[col]; ok {
			errs = append(errs, fmt.Errorf("column %s has both a date range and an extended domain", col))
		}
	}
	return errors.Join(errs...)
}
