package csv

import (
	"context"
	"errors"
	"fmt"
	"io"

	"synthetl/internal/config"
	"synthetl/internal/dataset"
	"synthetl/internal/transformer"
)

// ReadTable reads the whole of src into a table.
//
// With a header, columns selects and orders the columns to keep; empty keeps
// all of them in file order. A requested column missing from the header, or
// a header naming the same column twice, is a schema mismatch. Without a
// header, columns names the fields by position and is required.
//
// Unlike StreamCSVRows, a malformed record fails the read: the pipeline
// profiles the whole table and a silently dropped row would skew it.
func ReadTable(ctx context.Context, src io.ReadCloser, columns []string, opt config.Options) (dataset.Table, error) {
	defer src.Close()

	r, err := newReader(src, opt)
	if err != nil {
		return dataset.Table{}, err
	}

	var colIx []int
	if opt.Bool("has_header", true) {
		hdr, err := r.header(opt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dataset.New(columns), nil
			}
			return dataset.Table{}, fmt.Errorf("csv: %w", err)
		}
		pos := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if _, dup := pos[h]; dup {
				return dataset.Table{}, dataset.ColumnError(h, fmt.Errorf("%w: duplicate header", dataset.ErrSchemaMismatch))
			}
			pos[h] = i
		}
		if len(columns) == 0 {
			columns = hdr
		}
		colIx = make([]int, len(columns))
		for t, c := range columns {
			si, ok := pos[c]
			if !ok {
				return dataset.Table{}, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
			}
			colIx[t] = si
		}
	} else {
		if len(columns) == 0 {
			return dataset.Table{}, errors.New("csv: columns are required when has_header is false")
		}
		colIx = make([]int, len(columns))
		for i := range colIx {
			colIx[i] = i
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstErr error
	onErr := func(line int, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("line %d: %w", line, err)
			cancel()
		}
	}

	out := make(chan *transformer.Row, 256)
	done := make(chan error, 1)
	go func() {
		done <- r.stream(ctx, colIx, out, onErr)
		close(out)
	}()

	t := dataset.New(columns)
	for row := range out {
		t.Rows = append(t.Rows, append([]any(nil), row.V...))
		row.Free()
	}
	err = <-done

	if firstErr != nil {
		return dataset.Table{}, fmt.Errorf("csv: %w", firstErr)
	}
	if err != nil {
		return dataset.Table{}, err
	}
	return t, nil
}
