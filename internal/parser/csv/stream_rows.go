// Package csv reads delimited text into rows.
//
// Options (config.Options):
//
//	has_header         bool     default true
//	comma              rune     default ','
//	trim_space         bool     default true
//	lazy_quotes        bool     default false
//	fields_per_record  int      default 0 (variable)
//	encoding           string   default "utf-8"; any WHATWG label, e.g. "windows-1250"
//	header_map         {src: dst} renames after trimming
//	normalize_headers  bool     default false; snake_case unmapped headers
//	null_values        []string cells equal to one of these are missing
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"synthetl/internal/config"
	"synthetl/internal/ident"
	"synthetl/internal/transformer"
)

type reader struct {
	cr   *csv.Reader
	line int

	trim  bool
	nulls map[string]bool
}

func newReader(src io.Reader, opt config.Options) (*reader, error) {
	r, err := decode(src, opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	} else {
		cr.FieldsPerRecord = -1
	}

	rd := &reader{cr: cr, trim: opt.Bool("trim_space", true)}
	if nv := opt.Strings("null_values"); len(nv) > 0 {
		rd.nulls = make(map[string]bool, len(nv))
		for _, v := range nv {
			rd.nulls[v] = true
		}
	}
	return rd, nil
}

func decode(src io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return src, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("csv: encoding %q: %w", name, err)
	}
	return enc.NewDecoder().Reader(src), nil
}

func (r *reader) read() ([]string, error) {
	r.line++
	return r.cr.Read()
}

// header reads the header record and returns the cleaned names in source
// order: edge space trimmed, a leading BOM dropped, header_map applied.
func (r *reader) header(opt config.Options) ([]string, error) {
	hdr, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	hm := opt.StringMap("header_map")
	snake := opt.Bool("normalize_headers", false)

	out := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if transformer.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		} else if snake {
			h = ident.Snake(h)
		}
		out[i] = h
	}
	return out, nil
}

func (r *reader) cell(v string) any {
	if r.trim && transformer.HasEdgeSpace(v) {
		v = strings.TrimSpace(v)
	}
	if v == "" || r.nulls[v] {
		return nil
	}
	return v
}

// StreamCSVRows streams CSV into pooled *transformer.Row objects aligned to
// the target 'columns' order. Columns absent from the header stay nil.
// Without a header, columns map to fields by position.
//
// Malformed records are reported to onErr and skipped; I/O and decoding
// errors end the stream.
//
// NOTE on cancellation:
// On ctx cancellation we must NOT return in-flight rows to the pool (Drop instead),
// otherwise the parser can reuse them immediately while downstream drain-safe
// stages still read them.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := newReader(src, opt)
	if err != nil {
		return err
	}

	colIx := make([]int, len(columns))
	if opt.Bool("has_header", true) {
		hdr, err := r.header(opt)
		if err != nil {
			if onErr != nil {
				onErr(r.line, err)
			}
			return err
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			srcToIdx[h] = i
		}
		for t, target := range columns {
			colIx[t] = -1
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	return r.stream(ctx, colIx, out, onErr)
}

func (r *reader) stream(ctx context.Context, colIx []int, out chan<- *transformer.Row, onErr func(int, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := r.read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return fmt.Errorf("csv read: line %d: %w", r.line, err)
			}
			if onErr != nil {
				onErr(r.line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(colIx))
		row.Line = r.line
		for t, si := range colIx {
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			row.V[t] = r.cell(rec[si])
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}
