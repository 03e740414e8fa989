// Package json reads JSON records into a table.
//
// Accepted shapes:
//   - a root array of objects
//   - a root object whose first array field holds the records (envelope);
//     records_field names that field explicitly
//   - one or more root objects back to back (JSON Lines)
//
// Options (config.Options):
//
//	header_map            {src: dst} key renames
//	array_join_separator  string, default ","; flattens arrays of strings
//	records_field         string, envelope field holding the records
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"synthetl/internal/config"
	"synthetl/internal/dataset"
)

// field is one key/value pair, kept in document order.
type field struct {
	key string
	val any
}

type decoder struct {
	dec     *json.Decoder
	hm      map[string]string
	sep     string
	records string

	line int
	emit func([]field) error
}

// ReadTable reads every record of src.
//
// Columns selects and orders the output; empty means every key seen, in
// first-seen order across records. Keys a record lacks are missing cells.
// Numbers stay json.Number so integers keep their exact text.
func ReadTable(ctx context.Context, src io.Reader, columns []string, opt config.Options) (dataset.Table, error) {
	var recs [][]field
	seen := make(map[string]bool)
	var discovered []string

	d := newDecoder(src, opt, func(rec []field) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, f := range rec {
			if !seen[f.key] {
				seen[f.key] = true
				discovered = append(discovered, f.key)
			}
		}
		recs = append(recs, rec)
		return nil
	})
	if err := d.run(); err != nil {
		return dataset.Table{}, err
	}

	if len(columns) == 0 {
		columns = discovered
	} else if len(recs) > 0 {
		for _, c := range columns {
			if !seen[c] {
				return dataset.Table{}, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
			}
		}
	}

	t := dataset.New(columns)
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	t.Rows = make([][]any, 0, len(recs))
	for _, rec := range recs {
		row := make([]any, len(columns))
		for _, f := range rec {
			if i, ok := pos[f.key]; ok {
				row[i] = f.val
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func newDecoder(r io.Reader, opt config.Options, emit func([]field) error) *decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := opt.String("array_join_separator", ",")
	if strings.TrimSpace(sep) == "" {
		sep = ","
	}
	return &decoder{
		dec:     dec,
		hm:      opt.StringMap("header_map"),
		sep:     sep,
		records: opt.String("records_field", ""),
		emit:    emit,
	}
}

func (d *decoder) run() error {
	for {
		tok, err := d.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: record %d: %w", d.line+1, err)
		}

		switch tok {
		case json.Delim('['):
			if err := d.array(); err != nil {
				return err
			}
		case json.Delim('{'):
			if err := d.root(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
		}
	}
}

// array streams the records of an array whose '[' has been consumed.
func (d *decoder) array() error {
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", d.line+1, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: record %d: array element is %v, want object", d.line+1, tok)
		}
		rec, err := d.object()
		if err != nil {
			return err
		}
		if err := d.record(rec); err != nil {
			return err
		}
	}
	return d.expect(json.Delim(']'))
}

// root handles a root object: an envelope when one of its fields is an array
// of records, otherwise a single record.
func (d *decoder) root() error {
	var single []field
	streamed := false

	for d.dec.More() {
		key, err := d.key()
		if err != nil {
			return err
		}
		tok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: value of %q: %w", key, err)
		}

		envelope := !streamed && tok == json.Delim('[') && (d.records == "" || d.records == key)
		if envelope {
			if err := d.array(); err != nil {
				return err
			}
			streamed = true
			continue
		}

		v, err := d.value(tok)
		if err != nil {
			return err
		}
		if !streamed {
			single = append(single, field{key: d.rename(key), val: d.flatten(v)})
		}
	}
	if err := d.expect(json.Delim('}')); err != nil {
		return err
	}
	if streamed {
		return nil
	}
	return d.record(single)
}

func (d *decoder) record(rec []field) error {
	d.line++
	return d.emit(rec)
}

// object reads the fields of an object whose '{' has been consumed.
func (d *decoder) object() ([]field, error) {
	var rec []field
	for d.dec.More() {
		key, err := d.key()
		if err != nil {
			return nil, err
		}
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: record %d: value of %q: %w", d.line+1, key, err)
		}
		v, err := d.value(tok)
		if err != nil {
			return nil, err
		}
		rec = append(rec, field{key: d.rename(key), val: d.flatten(v)})
	}
	if err := d.expect(json.Delim('}')); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *decoder) key() (string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: record %d: read key: %w", d.line+1, err)
	}
	k, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: record %d: object key is %T", d.line+1, tok)
	}
	return k, nil
}

// value materializes the value starting at tok. Nested objects become
// map[string]any; they are not expected in cleaned input and only survive
// as opaque cells.
func (d *decoder) value(tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := make(map[string]any)
		for d.dec.More() {
			k, err := d.key()
			if err != nil {
				return nil, err
			}
			vt, err := d.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: nested value of %q: %w", k, err)
			}
			v, err := d.value(vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, d.expect(json.Delim('}'))
	case '[':
		arr := []any{}
		for d.dec.More() {
			vt, err := d.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: nested array: %w", err)
			}
			v, err := d.value(vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, d.expect(json.Delim(']'))
	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", delim)
	}
}

func (d *decoder) expect(want json.Delim) error {
	tok, err := d.dec.Token()
	if err != nil {
		return fmt.Errorf("json: expected %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

func (d *decoder) rename(k string) string {
	if mapped, ok := d.hm[k]; ok && mapped != "" {
		return mapped
	}
	return k
}

// flatten joins an array of strings into one cell. Mixed arrays are kept.
func (d *decoder) flatten(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return v
		}
		ss = append(ss, s)
	}
	if len(ss) == 0 {
		return nil
	}
	return strings.Join(ss, d.sep)
}
