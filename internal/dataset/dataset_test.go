package dataset

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestAsFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"int", 3, 3, true},
		{"int64", int64(-7), -7, true},
		{"float", 2.5, 2.5, true},
		{"nan", math.NaN(), 0, false},
		{"text", " 4.25 ", 4.25, true},
		{"text empty", "  ", 0, false},
		{"text word", "Noord", 0, false},
		{"json number", json.Number("12"), 12, true},
		{"text inf", "Inf", 0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AsFloat(tt.in)
			if ok != tt.ok {
				t.Fatalf("AsFloat(%#v) ok=%v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("AsFloat(%#v)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextAndMissing(t *testing.T) {
	t.Parallel()

	if got := Text(" North "); got != "North" {
		t.Fatalf("Text trim: got %q", got)
	}
	if got := Text(3.0); got != "3" {
		t.Fatalf("Text float: got %q", got)
	}
	if got := Text(nil); got != "" {
		t.Fatalf("Text nil: got %q", got)
	}
	if !IsMissing(nil) || !IsMissing(" ") || !IsMissing(math.NaN()) {
		t.Fatalf("expected nil, blank and NaN to be missing")
	}
	if IsMissing("0") || IsMissing(0) {
		t.Fatalf("zero values must not be missing")
	}
}

func TestTableValidateAndRecord(t *testing.T) {
	t.Parallel()

	tb := New([]string{"region", "score"})
	if err := tb.Append([]any{"North", 1.0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tb.Append([]any{"South"}); err == nil {
		t.Fatalf("expected error for short row")
	}
	if err := tb.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rec := tb.Record(0)
	if rec["region"] != "North" || rec["score"] != 1.0 {
		t.Fatalf("unexpected record: %#v", rec)
	}

	dup := Table{Columns: []string{"a", "a"}}
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected duplicate column error")
	}

	cl := tb.Clone()
	cl.Rows[0][0] = "changed"
	if tb.Rows[0][0] != "North" {
		t.Fatalf("Clone must not share row slices")
	}
}

func TestErrorWithStage(t *testing.T) {
	t.Parallel()

	err := WithStage("impute", ColumnError("score", ErrSchemaMismatch))
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected errors.Is ErrSchemaMismatch, got %v", err)
	}
	want := "stage=impute column=score: schema mismatch"
	if err.Error() != want {
		t.Fatalf("Error()=%q, want %q", err.Error(), want)
	}

	var de *Error
	if !errors.As(WithStage("normalize", errors.New("boom")), &de) || de.Stage != "normalize" {
		t.Fatalf("expected plain error to be wrapped with stage")
	}
	if WithStage("x", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
