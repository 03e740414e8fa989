// Package pipeline runs the augmentation stages in order:
//
//	profile → impute → groups → synthesize → combine → normalize → verify
//
// Each stage consumes a complete in-memory table and returns a new one. The
// engine owns the single seeded random source and hands it to the stages
// that draw from it.
package pipeline

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	mrand "math/rand/v2"
	"strings"
	"time"

	"synthetl/internal/combine"
	"synthetl/internal/dataset"
	"synthetl/internal/impute"
	"synthetl/internal/metrics"
	"synthetl/internal/normalize"
	"synthetl/internal/profile"
	"synthetl/internal/synth"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stage names, as they appear in logs, metrics and errors.
const (
	StageProfile    = "profile"
	StageImpute     = "impute"
	StageGroups     = "groups"
	StageSynthesize = "synthesize"
	StageCombine    = "combine"
	StageNormalize  = "normalize"
	StageVerify     = "verify"
)

// LongFormat requests an unpivoted copy of some fact measures.
type LongFormat struct {
	Columns   []string
	VarName   string
	ValueName string
}

// Options configures one run.
type Options struct {
	// Seed makes the run reproducible. Nil picks a random seed, which is
	// logged and returned in Result.Seed so the run can be replayed.
	Seed *uint64

	Profile   profile.Options
	Impute    impute.Options
	Groups    []profile.GroupSpec
	Synth     synth.Options
	Combine   combine.Options
	Normalize normalize.Options
	Long      *LongFormat
}

// Result carries every intermediate table of a run.
type Result struct {
	Seed     uint64
	Profile  *profile.Profile
	Groups   []profile.Group
	Warnings []profile.Warning

	Imputed    dataset.Table
	Synthetic  dataset.Table
	Combined   dataset.Table
	Normalized *normalize.Result
}

// Engine runs the stages. The zero value is usable.
type Engine struct {
	Logger Logger
}

// Run executes every stage on base, the cleaned real table.
//
// Errors:
//   - every fatal error is a *dataset.Error naming the failed stage and, when
//     known, the table and column
//   - degenerate statistics are not errors; they are logged and returned in
//     Result.Warnings
func (e *Engine) Run(base dataset.Table, opt Options) (*Result, error) {
	logf := e.logger()

	seed, err := resolveSeed(opt.Seed)
	if err != nil {
		return nil, err
	}
	if opt.Seed == nil {
		logf("stage=seed random seed=%d", seed)
	} else {
		logf("stage=seed fixed seed=%d", seed)
	}

	rng := mrand.New(mrand.NewPCG(seed, seed^pcgStream))
	res := &Result{Seed: seed}

	if opt.Profile.Sentinel == "" {
		opt.Profile.Sentinel = opt.Impute.Sentinel
	}
	if opt.Combine.RecordIDColumn == "" {
		opt.Combine.RecordIDColumn = combine.DefaultRecordIDColumn
	}
	if opt.Combine.ProvenanceColumn == "" {
		opt.Combine.ProvenanceColumn = combine.DefaultProvenanceColumn
	}
	if opt.Normalize.RecordIDColumn == "" {
		opt.Normalize.RecordIDColumn = opt.Combine.RecordIDColumn
	}
	if opt.Normalize.ProvenanceColumn == "" {
		opt.Normalize.ProvenanceColumn = opt.Combine.ProvenanceColumn
	}
	if opt.Normalize.KeyRand == nil {
		opt.Normalize.KeyRand = keyStream(seed)
	}

	if err := e.stage(StageProfile, func() error {
		if err := base.Validate(); err != nil {
			return err
		}
		opt.Profile.Numeric = DeclaredNumeric(base.Columns, opt)
		var warns []profile.Warning
		res.Profile, warns = profile.Build(base, opt.Profile)
		e.warn(StageProfile, warns)
		res.Warnings = append(res.Warnings, warns...)
		metrics.AddRecords("real", base.Len())
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageImpute, func() error {
		var err error
		res.Imputed, err = impute.Impute(base, res.Profile, opt.Impute, rng)
		return err
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageGroups, func() error {
		groups, warns, err := profile.BuildGroups(res.Imputed, res.Profile, opt.Groups)
		if err != nil {
			return err
		}
		e.warn(StageGroups, warns)
		res.Groups = groups
		res.Warnings = append(res.Warnings, warns...)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageSynthesize, func() error {
		var err error
		res.Synthetic, err = synth.New(opt.Synth).Generate(res.Imputed, res.Profile, res.Groups, rng)
		if err == nil {
			metrics.AddRecords("synthetic", res.Synthetic.Len())
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageCombine, func() error {
		var err error
		res.Combined, err = combine.Combine(res.Imputed, res.Synthetic, opt.Combine)
		return err
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageNormalize, func() error {
		nr, err := normalize.Normalize(res.Combined, res.Profile, opt.Normalize)
		if err != nil {
			return err
		}
		if opt.Long != nil && len(opt.Long.Columns) > 0 {
			long, err := normalize.Melt(nr.Fact.Table, opt.Normalize.RecordIDColumn, opt.Long.Columns, opt.Long.VarName, opt.Long.ValueName)
			if err != nil {
				return err
			}
			nr.Long = &long
		}
		res.Normalized = nr
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.stage(StageVerify, func() error {
		if err := normalize.Verify(res.Normalized); err != nil {
			return err
		}
		want := base.Len() * (1 + opt.Synth.Scale)
		if got := res.Normalized.Fact.Len(); got != want {
			return fmt.Errorf("%w: fact has %d rows, want %d", dataset.ErrReferentialIntegrity, got, want)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	dims := 0
	for _, d := range res.Normalized.Dimensions {
		dims += d.Len()
	}
	metrics.AddRecords("fact", res.Normalized.Fact.Len())
	metrics.AddRecords("dimension", dims)
	logf("stage=done real=%d synthetic=%d fact=%d dimensions=%d dimension_rows=%d",
		base.Len(), res.Synthetic.Len(), res.Normalized.Fact.Len(), len(res.Normalized.Dimensions), dims)

	return res, nil
}

// DeclaredNumeric returns the columns of cols that opt pins as numeric, with
// the value an empty column is centered on: the scale midpoint for scaled
// columns, the bound midpoint for members of a bounded correlation group and
// 0 for other group members. Entries already in opt.Profile.Numeric win.
func DeclaredNumeric(cols []string, opt Options) map[string]float64 {
	out := make(map[string]float64, len(opt.Profile.Numeric))
	for _, c := range cols {
		if s, ok := impute.ScaleFor(opt.Impute.Scales, c); ok {
			out[c] = s.Midpoint()
			continue
		}
		for _, g := range opt.Groups {
			if !groupLists(g, c) {
				continue
			}
			center := 0.0
			if g.Bounds != nil {
				center = (g.Bounds.Min + g.Bounds.Max) / 2
			}
			out[c] = center
			break
		}
	}
	for c, v := range opt.Profile.Numeric {
		out[c] = v
	}
	return out
}

func groupLists(g profile.GroupSpec, col string) bool {
	if len(g.Columns) > 0 {
		for _, c := range g.Columns {
			if c == col {
				return true
			}
		}
		return false
	}
	return g.Prefix != "" && strings.HasPrefix(col, g.Prefix)
}

func (e *Engine) stage(name string, fn func() error) error {
	logf := e.logger()
	start := time.Now()

	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(name, status, time.Since(start))

	if err != nil {
		err = dataset.WithStage(name, err)
		logf("stage=%s error=%q", name, err.Error())
		return err
	}
	logf("stage=%s ok duration=%s", name, durMS(start))
	return nil
}

func (e *Engine) warn(stage string, warns []profile.Warning) {
	logf := e.logger()
	for _, w := range warns {
		logf("stage=%s warn column=%s reason=%q fallback=%q", stage, w.Column, w.Reason, w.Fallback)
	}
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// pcgStream is the fixed PCG stream selector XORed into the seed.
const pcgStream = 0x9e3779b97f4a7c15

func resolveSeed(seed *uint64) (uint64, error) {
	if seed != nil {
		return *seed, nil
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("pipeline: draw random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// keyStream derives the surrogate key byte stream from the run seed. It is
// separate from the sampling source so key draws never shift synthetic rows.
func keyStream(seed uint64) *mrand.ChaCha8 {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:8], seed)
	copy(s[8:], "synthetl-keys")
	return mrand.NewChaCha8(s)
}
