package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"synthetl/internal/dataset"
	"synthetl/internal/normalize"
	"synthetl/internal/storage"
	"synthetl/internal/storage/csvdir"
	"synthetl/internal/storage/sqlite"
	"synthetl/internal/transformer"
)

// sampleResult is a two-dimension result with four fact rows and a long
// table over one measure.
func sampleResult() *normalize.Result {
	region := &normalize.Dimension{
		Name: "Region", Columns: []string{"Region"}, KeyColumn: "Region_id",
		Entries: []normalize.Entry{{Values: []string{"Utrecht"}, Key: "1"}, {Values: []string{"Limburg"}, Key: "2"}},
	}
	resp := &normalize.Dimension{
		Name: "respondent", Columns: []string{"Gender", "Afdeling"}, KeyColumn: "respondent_id",
		Entries: []normalize.Entry{{Values: []string{"M", "HR"}, Key: "1"}, {Values: []string{"V", "IT"}, Key: "2"}},
	}

	fact := normalize.Fact{
		Table: dataset.Table{
			Columns: []string{"Region_id", "respondent_id", "A1", "RecordID", "is_synthetic"},
			Rows: [][]any{
				{"1", "1", 4.0, "REAL_0000000", 0},
				{"2", "2", 3.0, "REAL_0000001", 0},
				{"1", "2", 5.0, "SYNTH_0000000", 1},
				{"2", "1", 4.0, "SYNTH_0000001", 1},
			},
		},
		KeyColumns: []string{"Region_id", "respondent_id"},
		Measures:   []string{"A1"},
	}

	long, err := normalize.Melt(fact.Table, "RecordID", []string{"A1"}, "QuestionCode", "Score")
	if err != nil {
		panic(err)
	}
	return &normalize.Result{Dimensions: []*normalize.Dimension{region, resp}, Fact: fact, Long: &long}
}

type call struct {
	table   string
	columns []string
	rows    [][]any
	dedupe  []string
}

type recordingRepo struct {
	mu      sync.Mutex
	ensured []storage.TableSpec
	calls   []call
	failOn  string
}

func (r *recordingRepo) Close() {}

func (r *recordingRepo) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = append(r.ensured, tables...)
	return nil
}

func (r *recordingRepo) InsertRows(_ context.Context, table string, columns []string, rows [][]any, dedupe []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if table == r.failOn {
		return 0, errors.New("boom")
	}
	cp := make([][]any, len(rows))
	for i, row := range rows {
		cp[i] = append([]any(nil), row...)
	}
	r.calls = append(r.calls, call{table: table, columns: columns, rows: cp, dedupe: dedupe})
	return int64(len(rows)), nil
}

func (r *recordingRepo) rowsFor(table string) [][]any {
	var out [][]any
	for _, c := range r.calls {
		if c.table == table {
			out = append(out, c.rows...)
		}
	}
	return out
}

func TestBuildPlanNamesAndSchema(t *testing.T) {
	t.Parallel()

	p, err := BuildPlan(sampleResult(), "capscan_", false)
	require.NoError(t, err)

	var names []string
	for _, s := range p.Specs() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"capscan_region", "capscan_respondent", "capscan_fact", "capscan_long"}, names)

	require.Equal(t, []string{"Region_id"}, p.Dimensions[0].Spec.PrimaryKey)
	require.Equal(t, []string{"respondent_id", "Gender", "Afdeling"}, p.Dimensions[1].Spec.ColumnNames())

	fact := p.Fact.Spec
	require.Equal(t, []string{"RecordID"}, fact.PrimaryKey)
	col, ok := fact.Column("respondent_id")
	require.True(t, ok)
	require.Equal(t, &storage.Reference{Table: "capscan_respondent", Column: "respondent_id"}, col.References)
	col, _ = fact.Column("A1")
	require.Equal(t, storage.TypeReal, col.Type)
	col, _ = fact.Column("is_synthetic")
	require.Equal(t, storage.TypeInteger, col.Type)
	require.Equal(t, []string{"RecordID"}, p.Fact.Dedupe)
	require.Nil(t, p.Hash)

	require.Equal(t, []string{"RecordID", "QuestionCode"}, p.Long.Spec.PrimaryKey)
	require.Equal(t, "capscan_fact", p.Long.Spec.Columns[0].References.Table)
}

func TestBuildPlanRowHashAndCollisions(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	res.Dimensions[0].Name = "Fact"
	p, err := BuildPlan(res, "", true)
	require.NoError(t, err)
	require.Equal(t, "fact", p.Dimensions[0].Spec.Name)
	require.Equal(t, "fact_2", p.Fact.Spec.Name)
	require.Equal(t, []string{transformer.DefaultHashField}, p.Fact.Dedupe)
	require.Equal(t, []string{transformer.DefaultHashField}, p.Fact.Spec.UniqueColumns())
	require.NotNil(t, p.Hash)

	res = sampleResult()
	res.Fact.Columns[2] = transformer.DefaultHashField
	res.Fact.Measures = []string{transformer.DefaultHashField}
	res.Long = nil
	_, err = BuildPlan(res, "", true)
	require.ErrorIs(t, err, dataset.ErrSchemaMismatch)

	_, err = BuildPlan(nil, "", false)
	require.Error(t, err)
}

func TestLoadOrderAndBatches(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	e := &Engine{Repo: repo, BatchSize: 3, Workers: 2, RowHash: true, DebugTimings: true}

	sum, err := e.Load(context.Background(), sampleResult())
	require.NoError(t, err)
	require.Len(t, repo.ensured, 4)

	require.Len(t, sum.Tables, 4)
	require.Equal(t, TableStats{Table: "fact", Kind: storage.KindFact, Rows: 4, Inserted: 4}, sum.Tables[2])
	require.EqualValues(t, 4, sum.Tables[3].Inserted)

	// Dimensions are written before any fact batch.
	require.Equal(t, "region", repo.calls[0].table)
	require.Equal(t, "respondent", repo.calls[1].table)

	facts := repo.rowsFor("fact")
	require.Len(t, facts, 4)
	hashes := map[string]bool{}
	for _, r := range facts {
		require.Len(t, r, 6)
		h, ok := r[5].(string)
		require.True(t, ok)
		require.Len(t, h, 64)
		hashes[h] = true
	}
	require.Len(t, hashes, 4)

	var factBatches int
	for _, c := range repo.calls {
		if c.table == "fact" {
			factBatches++
			require.Equal(t, []string{transformer.DefaultHashField}, c.dedupe)
		}
	}
	require.Equal(t, 2, factBatches)

	require.Len(t, repo.rowsFor("long"), 4)
}

func TestLoadPropagatesRepoErrors(t *testing.T) {
	t.Parallel()

	for _, table := range []string{"region", "fact", "long"} {
		repo := &recordingRepo{failOn: table}
		_, err := (&Engine{Repo: repo, BatchSize: 1}).Load(context.Background(), sampleResult())
		require.Error(t, err, table)
		require.Contains(t, err.Error(), "boom")
		require.Contains(t, err.Error(), table)
	}

	_, err := (&Engine{}).Load(context.Background(), sampleResult())
	require.Error(t, err)
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &recordingRepo{}
	_, err := (&Engine{Repo: repo}).loadFacts(ctx, mustPlan(t, sampleResult()))
	require.ErrorIs(t, err, context.Canceled)
}

func mustPlan(t *testing.T, res *normalize.Result) Plan {
	t.Helper()
	p, err := BuildPlan(res, "", false)
	require.NoError(t, err)
	return p
}

func TestLoadIntoSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "out.db")
	repo, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer repo.Close()

	e := &Engine{Repo: repo, TablePrefix: "capscan_", BatchSize: 2, RowHash: true}
	sum, err := e.Load(ctx, sampleResult())
	require.NoError(t, err)
	for _, st := range sum.Tables {
		require.EqualValues(t, st.Rows, st.Inserted, st.Table)
	}

	// Same keys, same hashes: a second load inserts nothing.
	sum, err = e.Load(ctx, sampleResult())
	require.NoError(t, err)
	for _, st := range sum.Tables {
		require.Zero(t, st.Inserted, st.Table)
	}
}

func TestLoadIntoSQLiteRejectsDanglingKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	defer repo.Close()

	res := sampleResult()
	res.Fact.Rows[0][0] = "9"
	_, err = (&Engine{Repo: repo}).Load(ctx, res)
	require.Error(t, err)
}

func TestLoadIntoCSVDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := csvdir.New(ctx, storage.Config{Kind: "csvdir", DSN: dir})
	require.NoError(t, err)
	defer repo.Close()

	_, err = (&Engine{Repo: repo, Workers: 1}).Load(ctx, sampleResult())
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "respondent.csv"))
	require.NoError(t, err)
	require.Equal(t, "respondent_id,Gender,Afdeling\n1,M,HR\n2,V,IT\n", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "fact.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "Region_id,respondent_id,A1,RecordID,is_synthetic", lines[0])
	require.Contains(t, lines, "1,2,5,SYNTH_0000000,1")

	b, err = os.ReadFile(filepath.Join(dir, "long.csv"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), "RecordID,QuestionCode,Score\nREAL_0000000,A1,4\n"), fmt.Sprintf("%q", b))
}
