package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"

	"synthetl/internal/config"
	"synthetl/internal/export"
	"synthetl/internal/pipeline"
	"synthetl/internal/source"
	"synthetl/internal/storage"
)

// pipelineRunner reads the source, runs the pipeline and exports the result.
type pipelineRunner struct {
	log *slog.Logger
}

func newPipelineRunner(verbose bool, w io.Writer) runner {
	return &pipelineRunner{log: newLogger(w, verbose)}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
			}
			return a
		},
	}))
}

func (r *pipelineRunner) Run(ctx context.Context, p config.Pipeline) error {
	opts, err := p.PipelineOptions()
	if err != nil {
		return err
	}

	base, err := source.Read(ctx, p.Source)
	if err != nil {
		return err
	}
	r.log.Info("source loaded", "rows", base.Len(), "columns", len(base.Columns))

	// The engines log through the Printf seam; route it into slog.
	stageLog := slog.NewLogLogger(r.log.Handler(), slog.LevelInfo)

	eng := &pipeline.Engine{Logger: stageLog}
	res, err := eng.Run(base, opts)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		r.log.Warn("degenerate statistics", "warning", w.String())
	}
	r.log.Info("pipeline done", "seed", res.Seed, "fact_rows", res.Normalized.Fact.Len(), "dimensions", len(res.Normalized.Dimensions))

	kind := strings.TrimSpace(p.Storage.Kind)
	if kind == "" || kind == "none" {
		r.log.Info("storage disabled; nothing exported")
		return nil
	}

	repo, err := storage.New(ctx, storage.Config{Kind: kind, DSN: p.Storage.DSN})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	exp := &export.Engine{
		Repo:         repo,
		Logger:       stageLog,
		BatchSize:    p.Storage.BatchSize,
		TablePrefix:  p.Storage.TablePrefix,
		RowHash:      p.Storage.RowHash,
		DebugTimings: p.Runtime.DebugTimings,
	}
	sum, err := exp.Load(ctx, res.Normalized)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, t := range sum.Tables {
		r.log.Info("table loaded", "table", t.Table, "kind", t.Kind, "rows", t.Rows, "inserted", t.Inserted)
	}
	return nil
}
