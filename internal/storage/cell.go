package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatCell renders a cell as text: "" for missing values, shortest
// round-trip form for floats. CSV output and dedupe keys both use it, so a
// value compares equal however it was typed upstream.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if math.IsNaN(t) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// SQLValue prepares a cell for a driver argument of the given column type.
// Numeric text is parsed for integer and real columns; NaN and empty text
// become NULL.
func SQLValue(v any, typ ColumnType) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if math.IsNaN(t) {
			return nil, nil
		}
	case string:
		if strings.TrimSpace(t) == "" && typ != TypeText {
			return nil, nil
		}
	}

	switch typ {
	case TypeInteger:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("storage: %v is not an integer", t)
			}
			return int64(t), nil
		default:
			n, err := strconv.ParseInt(strings.TrimSpace(FormatCell(v)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %q is not an integer", FormatCell(v))
			}
			return n, nil
		}
	case TypeReal:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		default:
			f, err := strconv.ParseFloat(strings.TrimSpace(FormatCell(v)), 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %q is not a number", FormatCell(v))
			}
			return f, nil
		}
	default:
		return FormatCell(v), nil
	}
}

// DedupeKey joins the formatted cells at idx into one comparable key.
func DedupeKey(row []any, idx []int) string {
	var b strings.Builder
	for i, j := range idx {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		if row[j] == nil {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(FormatCell(row[j]))
	}
	return b.String()
}

// ColumnIndexes resolves names against columns.
func ColumnIndexes(columns, names []string) ([]int, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	out := make([]int, len(names))
	for i, n := range names {
		j, ok := pos[n]
		if !ok {
			return nil, fmt.Errorf("storage: column %q not present in columns", n)
		}
		out[i] = j
	}
	return out, nil
}

// Chunks splits rows into consecutive slices of at most size rows. size < 1
// yields a single chunk.
func Chunks(rows [][]any, size int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	if size < 1 || size >= len(rows) {
		return [][][]any{rows}
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// ConvertRows maps every cell through SQLValue using the column types of
// spec. Columns spec does not declare pass through unchanged. rows is not
// modified.
func ConvertRows(spec TableSpec, columns []string, rows [][]any) ([][]any, error) {
	types := make([]ColumnType, len(columns))
	for i, c := range columns {
		if cs, ok := spec.Column(c); ok {
			types[i] = cs.Type
		}
	}

	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("storage: table %s row %d has %d cells, want %d", spec.Name, i, len(row), len(columns))
		}
		conv := make([]any, len(row))
		for j, v := range row {
			if types[j] == "" {
				conv[j] = v
				continue
			}
			cv, err := SQLValue(v, types[j])
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", spec.Name, columns[j], err)
			}
			conv[j] = cv
		}
		out[i] = conv
	}
	return out, nil
}
