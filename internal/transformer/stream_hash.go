package transformer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultHashField is the column the export engine writes fact hashes to.
const DefaultHashField = "row_hash"

// HashSpec describes how to derive a row hash.
type HashSpec struct {
	Fields            []string
	TargetField       string
	IncludeFieldNames bool
	Separator         string
	TrimSpace         bool
}

// Hasher computes a stable SHA-256 over selected columns of positional rows.
// Missing values hash as "null", so a missing cell differs from "".
type Hasher struct {
	spec      HashSpec
	fieldIdx  []int
	targetIdx int
	sep       string
}

// NewHasher resolves spec against columns. Every field and the target must
// be a column.
func NewHasher(columns []string, spec HashSpec) (*Hasher, error) {
	h := &Hasher{spec: spec, sep: spec.Separator}
	if h.sep == "" {
		h.sep = "\x1f"
	}
	h.targetIdx = indexOf(columns, spec.TargetField)
	if h.targetIdx < 0 {
		return nil, fmt.Errorf("hash: target field %q is not a column", spec.TargetField)
	}
	if len(spec.Fields) == 0 {
		return nil, fmt.Errorf("hash: no fields")
	}
	h.fieldIdx = make([]int, len(spec.Fields))
	for i, name := range spec.Fields {
		h.fieldIdx[i] = indexOf(columns, name)
		if h.fieldIdx[i] < 0 {
			return nil, fmt.Errorf("hash: missing field %q", name)
		}
		if h.fieldIdx[i] == h.targetIdx {
			return nil, fmt.Errorf("hash: field %q is the target", name)
		}
	}
	return h, nil
}

// Sum returns the lowercase hex digest (64 chars) of row.
func (h *Hasher) Sum(row []any) string {
	var b strings.Builder
	var scratch [64]byte
	b.Grow(len(h.fieldIdx) * 16)
	for i, idx := range h.fieldIdx {
		if i > 0 {
			b.WriteString(h.sep)
		}
		if h.spec.IncludeFieldNames {
			b.WriteString(h.spec.Fields[i])
			b.WriteByte('=')
		}
		appendCanonicalValue(&b, row[idx], h.spec.TrimSpace, &scratch)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Apply writes the digest of r into the target column.
func (h *Hasher) Apply(r *Row) {
	r.V[h.targetIdx] = h.Sum(r.V)
}

// HashLoopRows hashes every row from in and forwards it to out. Rows of the
// wrong width are reported to onReject and freed. It returns when in is
// closed; on ctx cancellation it keeps draining in without re-pooling.
func HashLoopRows(
	ctx context.Context,
	h *Hasher,
	width int,
	in <-chan *Row,
	out chan<- *Row,
	onReject func(line int, reason string),
) {
	for r := range in {
		// On cancellation: drain without re-pooling (prevents reuse races).
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}

		if r == nil {
			continue
		}
		if len(r.V) != width {
			if onReject != nil {
				onReject(r.Line, fmt.Sprintf("hash: row has %d cells, want %d", len(r.V), width))
			}
			r.Free()
			continue
		}

		h.Apply(r)

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

func indexOf(cols []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func appendCanonicalValue(b *strings.Builder, v any, trimSpace bool, scratch *[64]byte) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")

	case string:
		if trimSpace && HasEdgeSpace(t) {
			t = strings.TrimSpace(t)
		}
		b.WriteString(t)

	case bool:
		b.WriteString(strconv.FormatBool(t))

	case int:
		b.Write(strconv.AppendInt(scratch[:0], int64(t), 10))
	case int64:
		b.Write(strconv.AppendInt(scratch[:0], t, 10))
	case uint64:
		b.Write(strconv.AppendUint(scratch[:0], t, 10))

	case float64:
		b.Write(strconv.AppendFloat(scratch[:0], t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		fmt.Fprintf(b, "%v", t)
	}
}

// HasEdgeSpace reports whether s starts or ends with a space or tab. It lets
// hot paths skip strings.TrimSpace for the common already-clean case.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}
