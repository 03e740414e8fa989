// Package source reads the configured input file into a dataset.Table.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"synthetl/internal/config"
	"synthetl/internal/dataset"
	csvparser "synthetl/internal/parser/csv"
	jsonparser "synthetl/internal/parser/json"
)

// Format returns the input format of src: source.format when set, otherwise
// guessed from the file extension (".json", ".jsonl", ".ndjson" are JSON,
// everything else CSV).
func Format(src config.Source) string {
	if f := strings.ToLower(strings.TrimSpace(src.Format)); f != "" {
		return f
	}
	if src.File == nil {
		return "csv"
	}
	switch strings.ToLower(filepath.Ext(src.File.Path)) {
	case ".json", ".jsonl", ".ndjson":
		return "json"
	default:
		return "csv"
	}
}

// Read reads the whole input table.
func Read(ctx context.Context, src config.Source) (dataset.Table, error) {
	if src.File == nil || strings.TrimSpace(src.File.Path) == "" {
		return dataset.Table{}, fmt.Errorf("source: file.path is required")
	}
	format := Format(src)
	if format != "csv" && format != "json" {
		return dataset.Table{}, fmt.Errorf("source: unsupported format %q (want csv or json)", format)
	}

	f, err := os.Open(src.File.Path)
	if err != nil {
		return dataset.Table{}, fmt.Errorf("source: %w", err)
	}

	if format == "csv" {
		// ReadTable closes f.
		return csvparser.ReadTable(ctx, f, src.Columns, src.Options)
	}
	defer f.Close()
	return jsonparser.ReadTable(ctx, f, src.Columns, src.Options)
}
