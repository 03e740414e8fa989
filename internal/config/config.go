// Package config holds the JSON job description for cmd/synthetl and turns it
// into pipeline options.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Pipeline is the top-level job file.
type Pipeline struct {
	Job       string    `json:"job"`
	Source    Source    `json:"source"`
	Augment   Augment   `json:"augment"`
	Normalize Normalize `json:"normalize"`
	Storage   Storage   `json:"storage"`
	Runtime   Runtime   `json:"runtime"`
}

type Source struct {
	// Kind is "file", the only source today.
	Kind   string      `json:"kind"`
	Format string      `json:"format"` // "csv" | "json"
	File   *FileSource `json:"file,omitempty"`

	// Columns restricts and orders the columns read from the source. Empty
	// keeps every column in source order.
	Columns []string `json:"columns,omitempty"`

	Options Options `json:"options"`
}

type FileSource struct {
	Path string `json:"path"`
}

// Augment configures profiling, imputation and synthesis. Pointer fields
// distinguish "not set" from an explicit zero (scale_factor 0 is a valid
// "no synthetic rows" run).
type Augment struct {
	ScaleFactor     *int     `json:"scale_factor,omitempty"`
	NoiseFraction   *float64 `json:"noise_fraction_of_stddev,omitempty"`
	CovarianceScale *float64 `json:"covariance_scale,omitempty"`
	ClipWidth       *float64 `json:"clip_width_in_stddevs,omitempty"`
	RoundDecimals   *int     `json:"round_decimals,omitempty"`
	RandomSeed      *uint64  `json:"random_seed,omitempty"`

	Sentinel           string   `json:"sentinel,omitempty"`
	RequiredColumns    []string `json:"required_columns,omitempty"`
	CategoricalColumns []string `json:"categorical_columns,omitempty"`

	ExtendedDomains   map[string][]string  `json:"extended_categorical_domains,omitempty"`
	DateRanges        map[string]DateRange `json:"date_ranges,omitempty"`
	Scales            []Scale              `json:"scales,omitempty"`
	CorrelationGroups []CorrelationGroup   `json:"correlation_groups,omitempty"`
}

type DateRange struct {
	Start  string `json:"start"`
	Days   int    `json:"days"`
	Layout string `json:"layout,omitempty"`
}

// Scale is a bounded integer response scale, e.g. a 1..5 Likert item.
type Scale struct {
	Columns []string `json:"columns,omitempty"`
	Prefix  string   `json:"prefix,omitempty"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
}

type CorrelationGroup struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Discrete bool     `json:"discrete,omitempty"`
}

type Normalize struct {
	RecordIDColumn   string `json:"record_id_column,omitempty"`
	ProvenanceColumn string `json:"provenance_column,omitempty"`
	IDWidth          int    `json:"id_width,omitempty"`

	KeyStrategy string `json:"key_strategy,omitempty"` // "uuid" | "sequence"
	KeyLength   int    `json:"key_length,omitempty"`

	DimensionGroups []DimensionGroup `json:"dimension_groups,omitempty"`
	LongFormat      *LongFormat      `json:"long_format,omitempty"`
}

type DimensionGroup struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type LongFormat struct {
	Columns   []string `json:"columns"`
	VarName   string   `json:"var_name,omitempty"`
	ValueName string   `json:"value_name,omitempty"`
}

type Storage struct {
	// Kind: "postgres" | "sqlite" | "mssql" | "csvdir" | "none" (or empty).
	Kind        string `json:"kind"`
	DSN         string `json:"dsn"`
	TablePrefix string `json:"table_prefix,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`

	// RowHash adds a row_hash column to the fact table and dedupes on it.
	RowHash bool `json:"row_hash,omitempty"`
}

// Runtime controls execution behavior that does not change results.
type Runtime struct {
	// DebugTimings logs the duration of every insert batch.
	DebugTimings bool `json:"debug_timings"`
}

// Decode reads one Pipeline from r. Unknown fields are rejected so typos in
// option names fail loudly instead of silently using defaults.
func Decode(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// Load reads the job file at path and applies environment overrides.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return Pipeline{}, err
	}
	if err := ApplyEnv(&p, os.Getenv); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Environment variables that override the job file.
const (
	EnvScaleFactor = "SYNTH_SCALE_FACTOR"
	EnvRandomSeed  = "SYNTH_RANDOM_SEED"
	EnvStorageKind = "SYNTH_STORAGE_KIND"
	EnvStorageDSN  = "SYNTH_STORAGE_DSN"
	EnvInputPath   = "SYNTH_INPUT_PATH"
)

// ApplyEnv overrides fields of p from getenv. Unset or blank variables are
// ignored; malformed numbers are errors.
func ApplyEnv(p *Pipeline, getenv func(string) string) error {
	var errs []error

	if v := strings.TrimSpace(getenv(EnvScaleFactor)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvScaleFactor, err))
		} else {
			p.Augment.ScaleFactor = &n
		}
	}
	if v := strings.TrimSpace(getenv(EnvRandomSeed)); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRandomSeed, err))
		} else {
			p.Augment.RandomSeed = &n
		}
	}
	if v := strings.TrimSpace(getenv(EnvStorageKind)); v != "" {
		p.Storage.Kind = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		p.Storage.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvInputPath)); v != "" {
		if p.Source.File == nil {
			p.Source.File = &FileSource{}
		}
		p.Source.File.Path = v
		if p.Source.Kind == "" {
			p.Source.Kind = "file"
		}
	}

	return errors.Join(errs...)
}
