package storage

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

type fakeRepo struct{ closed int }

func (f *fakeRepo) Close()                                           { f.closed++ }
func (f *fakeRepo) EnsureTables(context.Context, []TableSpec) error { return nil }
func (f *fakeRepo) InsertRows(context.Context, string, []string, [][]any, []string) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := repo.(*fakeRepo); !ok {
		t.Fatalf("expected *fakeRepo, got %T", repo)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing fake-test", Kinds())
	}
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return &fakeRepo{}, nil }
	Register("dup-test", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate kind")
		}
	}()
	Register("dup-test", f)
}

func TestNewErrors(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage.kind=nope") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableSpecValidate(t *testing.T) {
	good := TableSpec{
		Name:       "fact",
		Kind:       KindFact,
		PrimaryKey: []string{"RecordID"},
		Columns: []ColumnSpec{
			{Name: "region_id", Type: TypeKey, References: &Reference{Table: "dim_region", Column: "region_id"}},
			{Name: "RecordID", Type: TypeText},
			{Name: "row_hash", Type: TypeText},
		},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"row_hash"}}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := good.UniqueColumns(); len(got) != 1 || got[0] != "row_hash" {
		t.Fatalf("UniqueColumns = %v", got)
	}

	tests := []struct {
		name   string
		mutate func(*TableSpec)
	}{
		{"empty name", func(s *TableSpec) { s.Name = " " }},
		{"no columns", func(s *TableSpec) { s.Columns = nil; s.PrimaryKey = nil; s.Constraints = nil }},
		{"duplicate column", func(s *TableSpec) { s.Columns = append(s.Columns, ColumnSpec{Name: "RecordID", Type: TypeText}) }},
		{"unknown type", func(s *TableSpec) { s.Columns[1].Type = "blob" }},
		{"bad reference", func(s *TableSpec) { s.Columns[0].References = &Reference{Table: "dim_region"} }},
		{"pk not declared", func(s *TableSpec) { s.PrimaryKey = []string{"id"} }},
		{"constraint kind", func(s *TableSpec) { s.Constraints[0].Kind = "check" }},
		{"constraint column", func(s *TableSpec) { s.Constraints[0].Columns = []string{"hash"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			s.Columns = append([]ColumnSpec(nil), good.Columns...)
			s.Constraints = []ConstraintSpec{{Kind: "unique", Columns: []string{"row_hash"}}}
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"Utrecht", "Utrecht"},
		{4.0, "4"},
		{4.25, "4.25"},
		{math.NaN(), ""},
		{7, "7"},
		{int64(1), "1"},
		{json.Number("12.50"), "12.50"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatCell(tt.in); got != tt.want {
			t.Fatalf("FormatCell(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSQLValue(t *testing.T) {
	v, err := SQLValue("3", TypeInteger)
	if err != nil || v != int64(3) {
		t.Fatalf("integer from text: %v %v", v, err)
	}
	v, err = SQLValue(2.0, TypeInteger)
	if err != nil || v != int64(2) {
		t.Fatalf("integer from float: %v %v", v, err)
	}
	if _, err := SQLValue(2.5, TypeInteger); err == nil {
		t.Fatalf("expected error for fractional integer")
	}
	v, err = SQLValue("4.5", TypeReal)
	if err != nil || v != 4.5 {
		t.Fatalf("real from text: %v %v", v, err)
	}
	v, err = SQLValue(math.NaN(), TypeReal)
	if err != nil || v != nil {
		t.Fatalf("NaN should be NULL: %v %v", v, err)
	}
	v, err = SQLValue("", TypeReal)
	if err != nil || v != nil {
		t.Fatalf("empty real should be NULL: %v %v", v, err)
	}
	v, err = SQLValue("", TypeText)
	if err != nil || v != "" {
		t.Fatalf("empty text should stay text: %v %v", v, err)
	}
	if _, err := SQLValue("abc", TypeReal); err == nil {
		t.Fatalf("expected error for non-numeric real")
	}
}

func TestDedupeKeyDistinguishesNil(t *testing.T) {
	idx := []int{0, 1}
	if DedupeKey([]any{nil, "a"}, idx) == DedupeKey([]any{"", "a"}, idx) {
		t.Fatalf("nil and empty string must differ")
	}
	if DedupeKey([]any{1.0, "a"}, idx) != DedupeKey([]any{"1", "a"}, idx) {
		t.Fatalf("1.0 and \"1\" should share a key")
	}
}

func TestColumnIndexes(t *testing.T) {
	got, err := ColumnIndexes([]string{"a", "b", "c"}, []string{"c", "a"})
	if err != nil {
		t.Fatalf("ColumnIndexes: %v", err)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Fatalf("unexpected indexes %v", got)
	}
	if _, err := ColumnIndexes([]string{"a"}, []string{"z"}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestChunks(t *testing.T) {
	rows := [][]any{{1}, {2}, {3}, {4}, {5}}

	got := Chunks(rows, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected chunking: %v", got)
	}
	if len(Chunks(rows, 0)) != 1 {
		t.Fatalf("size 0 should yield a single chunk")
	}
	if Chunks(nil, 2) != nil {
		t.Fatalf("empty input should yield nil")
	}
}

func TestConvertRowsUsesCatalogTypes(t *testing.T) {
	var cat Catalog
	cat.Put(TableSpec{Name: "fact", Columns: []ColumnSpec{
		{Name: "score", Type: TypeReal},
		{Name: "is_synthetic", Type: TypeInteger},
	}})

	rows, err := ConvertRows(cat.Get("fact"), []string{"score", "is_synthetic", "extra"}, [][]any{{"4", 1, "x"}})
	if err != nil {
		t.Fatalf("ConvertRows: %v", err)
	}
	if rows[0][0] != 4.0 || rows[0][1] != int64(1) || rows[0][2] != "x" {
		t.Fatalf("unexpected conversion: %#v", rows[0])
	}

	if _, err := ConvertRows(cat.Get("fact"), []string{"score"}, [][]any{{"4", 1}}); err == nil {
		t.Fatalf("expected width error")
	}
	if got := cat.Get("unknown"); got.Name != "unknown" || len(got.Columns) != 0 {
		t.Fatalf("unexpected spec for unknown table: %+v", got)
	}
}
