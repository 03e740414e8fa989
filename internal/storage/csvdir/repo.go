// Package csvdir is a storage backend that writes each table to
// <dir>/<table>.csv. The DSN is the directory; it is created if missing.
//
// Existing files are appended to after their header is checked against the
// table spec. Dedupe keys are read back from the file on first use, so a
// re-run with dedupe columns does not duplicate rows.
package csvdir

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"synthetl/internal/storage"
)

type Repo struct {
	dir string

	mu     sync.Mutex
	tables map[string]*table
}

type table struct {
	spec   storage.TableSpec
	path   string
	header []string

	// keys caches dedupe keys per dedupe column set.
	keys map[string]map[string]struct{}
}

func init() {
	storage.Register("csvdir", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dir := strings.TrimSpace(cfg.DSN)
	if dir == "" {
		return nil, fmt.Errorf("csvdir: dsn (output directory) is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvdir: %w", err)
	}
	return &Repo{dir: dir, tables: make(map[string]*table)}, nil
}

func (r *Repo) Close() {}

// Path returns the file a table is written to.
func (r *Repo) Path(name string) string {
	return filepath.Join(r.dir, name+".csv")
}

// EnsureTables creates a header-only file for each new table and checks the
// header of existing ones.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		if strings.ContainsAny(spec.Name, `/\`) {
			return fmt.Errorf("csvdir: table name %q must not contain path separators", spec.Name)
		}

		t := &table{spec: spec, path: r.Path(spec.Name), header: spec.ColumnNames()}
		existing, err := readHeader(t.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := writeRecords(t.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, [][]string{t.header}); err != nil {
				return fmt.Errorf("create table %s: %w", spec.Name, err)
			}
		case err != nil:
			return fmt.Errorf("open table %s: %w", spec.Name, err)
		case !slices.Equal(existing, t.header):
			return fmt.Errorf("csvdir: %s has header %v, want %v", t.path, existing, t.header)
		}
		r.tables[spec.Name] = t
	}
	return nil
}

// InsertRows appends rows. Columns may be any subset of the table's columns
// in any order; the rest are written empty.
func (r *Repo) InsertRows(ctx context.Context, name string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[name]
	if !ok {
		return 0, fmt.Errorf("csvdir: table %s was not ensured", name)
	}
	pos, err := headerPositions(t.header, columns)
	if err != nil {
		return 0, fmt.Errorf("table %s: %w", name, err)
	}

	var seen map[string]struct{}
	var dedupeIdx []int
	if len(dedupeColumns) > 0 {
		dedupeIdx, err = storage.ColumnIndexes(columns, dedupeColumns)
		if err != nil {
			return 0, err
		}
		seen, err = t.keySet(dedupeColumns)
		if err != nil {
			return 0, err
		}
	}

	out := make([][]string, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if len(row) != len(columns) {
			return 0, fmt.Errorf("csvdir: table %s row %d has %d cells, want %d", name, i, len(row), len(columns))
		}
		if seen != nil {
			k := storage.DedupeKey(row, dedupeIdx)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		rec := make([]string, len(t.header))
		for j, v := range row {
			rec[pos[j]] = storage.FormatCell(v)
		}
		out = append(out, rec)
	}

	if err := writeRecords(t.path, os.O_APPEND|os.O_WRONLY, out); err != nil {
		return 0, fmt.Errorf("append %s: %w", name, err)
	}
	return int64(len(out)), nil
}

// keySet loads the dedupe keys for cols from the file the first time they
// are asked for. Empty cells read back as missing values.
func (t *table) keySet(cols []string) (map[string]struct{}, error) {
	id := strings.Join(cols, "\x1f")
	if s, ok := t.keys[id]; ok {
		return s, nil
	}

	idx, err := storage.ColumnIndexes(t.header, cols)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(t.header)
	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("read header %s: %w", t.path, err)
	}

	s := make(map[string]struct{})
	row := make([]any, len(t.header))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.path, err)
		}
		for i, v := range rec {
			if v == "" {
				row[i] = nil
			} else {
				row[i] = v
			}
		}
		s[storage.DedupeKey(row, idx)] = struct{}{}
	}

	if t.keys == nil {
		t.keys = make(map[string]map[string]struct{})
	}
	t.keys[id] = s
	return s, nil
}

func headerPositions(header, columns []string) ([]int, error) {
	pos := make([]int, len(columns))
	for i, c := range columns {
		j := slices.Index(header, c)
		if j < 0 {
			return nil, fmt.Errorf("csvdir: column %q not in table header", c)
		}
		pos[i] = j
	}
	return pos, nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	return h, err
}

func writeRecords(path string, flag int, recs [][]string) (err error) {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.WriteAll(recs); err != nil {
		return err
	}
	return w.Error()
}
