// Package export writes a normalized result to a storage.Repository.
//
// Load order is fixed: DDL, every dimension, the fact table, then the long
// table, so foreign keys always point at rows that already exist. Fact rows
// flow through pooled transformer rows, an optional row-hash stage and a
// small worker pool that inserts batches.
package export

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"synthetl/internal/metrics"
	"synthetl/internal/normalize"
	"synthetl/internal/storage"
	"synthetl/internal/transformer"
)

const (
	defaultBatchSize = 1000
	defaultWorkers   = 4
)

// Logger is the minimal logging interface used by the export engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Engine loads normalized tables. Repo is required; the rest has defaults.
type Engine struct {
	Repo   storage.Repository
	Logger Logger

	BatchSize   int
	Workers     int
	TablePrefix string

	// RowHash adds a unique row_hash column to the fact table and dedupes
	// fact inserts on it instead of on the record id.
	RowHash bool

	// DebugTimings logs every batch.
	DebugTimings bool
}

// TableStats reports one loaded table. Skipped rows were already present
// (dedupe).
type TableStats struct {
	Table    string
	Kind     string
	Rows     int
	Inserted int64
}

// Summary lists the loaded tables in load order.
type Summary struct {
	Tables []TableStats
}

// Load creates the tables for res and inserts every row.
func (e *Engine) Load(ctx context.Context, res *normalize.Result) (Summary, error) {
	if e.Repo == nil {
		return Summary{}, fmt.Errorf("export: Repo is required")
	}
	logf := e.logger()

	plan, err := BuildPlan(res, e.TablePrefix, e.RowHash)
	if err != nil {
		return Summary{}, err
	}

	ddlStart := time.Now()
	if err := e.Repo.EnsureTables(ctx, plan.Specs()); err != nil {
		metrics.RecordStep("export_ddl", "error", time.Since(ddlStart))
		return Summary{}, err
	}
	metrics.RecordStep("export_ddl", "ok", time.Since(ddlStart))
	logf("stage=ddl ok tables=%d duration=%s", len(plan.Specs()), durMS(ddlStart))

	var sum Summary

	dimStart := time.Now()
	for _, d := range plan.Dimensions {
		st, err := e.insertTable(ctx, d)
		if err != nil {
			metrics.RecordStep("export_dimensions", "error", time.Since(dimStart))
			return sum, err
		}
		sum.Tables = append(sum.Tables, st)
	}
	metrics.RecordStep("export_dimensions", "ok", time.Since(dimStart))
	logf("stage=load_dimensions ok tables=%d duration=%s", len(plan.Dimensions), durMS(dimStart))

	factStart := time.Now()
	st, err := e.loadFacts(ctx, plan)
	if err != nil {
		metrics.RecordStep("export_fact", "error", time.Since(factStart))
		return sum, err
	}
	sum.Tables = append(sum.Tables, st)
	metrics.RecordStep("export_fact", "ok", time.Since(factStart))
	logf("stage=load_fact ok table=%s rows=%d inserted=%d duration=%s", st.Table, st.Rows, st.Inserted, durMS(factStart))

	if plan.Long != nil {
		longStart := time.Now()
		st, err := e.insertTable(ctx, *plan.Long)
		if err != nil {
			metrics.RecordStep("export_long", "error", time.Since(longStart))
			return sum, err
		}
		sum.Tables = append(sum.Tables, st)
		metrics.RecordStep("export_long", "ok", time.Since(longStart))
		logf("stage=load_long ok table=%s rows=%d inserted=%d duration=%s", st.Table, st.Rows, st.Inserted, durMS(longStart))
	}

	return sum, nil
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return defaultBatchSize
	}
	return e.BatchSize
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return defaultWorkers
	}
	return e.Workers
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// insertTable loads a small table sequentially in batches.
func (e *Engine) insertTable(ctx context.Context, tp tablePlan) (TableStats, error) {
	logf := e.logger()
	st := TableStats{Table: tp.Spec.Name, Kind: tp.Spec.Kind, Rows: len(tp.Rows)}

	for i, part := range storage.Chunks(tp.Rows, e.batchSize()) {
		start := time.Now()
		n, err := e.Repo.InsertRows(ctx, tp.Spec.Name, tp.Columns, part, tp.Dedupe)
		if err != nil {
			metrics.AddBatch(tp.Spec.Name, "error")
			return st, fmt.Errorf("load %s batch %d: %w", tp.Spec.Name, i, err)
		}
		metrics.AddBatch(tp.Spec.Name, "ok")
		st.Inserted += n
		if e.DebugTimings {
			logf("stage=batch table=%s batch=%d rows=%d inserted=%d duration=%s", tp.Spec.Name, i, len(part), n, durMS(start))
		}
	}
	metrics.AddRecords("loaded_"+tp.Spec.Kind, int(st.Inserted))
	return st, nil
}

// loadFacts streams fact rows through pooled rows, the optional hash stage
// and a worker pool.
//
// Cancellation and errors:
//   - Any worker error cancels the derived context with a cause.
//   - The first error wins; later ones are dropped.
//   - Every stage keeps draining its input on cancellation so no goroutine
//     blocks on a send.
func (e *Engine) loadFacts(ctx context.Context, plan Plan) (TableStats, error) {
	tp := plan.Fact
	st := TableStats{Table: tp.Spec.Name, Kind: tp.Spec.Kind, Rows: len(tp.Rows)}
	logf := e.logger()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
			cancel(err)
		default:
			// First error wins.
		}
	}

	columns := tp.Spec.ColumnNames()
	width := len(columns)
	batchSize := e.batchSize()
	workers := e.workers()

	// Producer: copy fact rows into pooled rows. Hash cells stay nil here.
	src := make(chan *transformer.Row, batchSize)
	go func() {
		defer close(src)
		for i, r := range tp.Rows {
			if len(r) != len(tp.Columns) {
				setErr(fmt.Errorf("load %s: row %d has %d cells, want %d", tp.Spec.Name, i+1, len(r), len(tp.Columns)))
				return
			}
			row := transformer.GetRow(width)
			copy(row.V, r)
			row.Line = i + 1
			select {
			case src <- row:
			case <-ctx.Done():
				row.Drop()
				return
			}
		}
	}()

	rows := (<-chan *transformer.Row)(src)
	if plan.Hash != nil {
		hashed := make(chan *transformer.Row, batchSize)
		go func() {
			defer close(hashed)
			transformer.HashLoopRows(ctx, plan.Hash, width, src, hashed, func(line int, reason string) {
				setErr(fmt.Errorf("load %s: row %d: %s", tp.Spec.Name, line, reason))
			})
		}()
		rows = hashed
	}

	// Worker pool. Ownership of every row in a batch transfers to the worker,
	// which frees each row exactly once after the insert returns.
	var inserted atomic.Int64
	batchCh := make(chan []*transformer.Row, workers*2)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(workerID int) {
			defer wg.Done()
			for batch := range batchCh {
				select {
				case <-ctx.Done():
					for _, r := range batch {
						r.Drop()
					}
					continue
				default:
				}

				start := time.Now()
				vals := make([][]any, len(batch))
				for i, r := range batch {
					vals[i] = r.V
				}
				n, err := e.Repo.InsertRows(ctx, tp.Spec.Name, columns, vals, tp.Dedupe)
				for _, r := range batch {
					r.Free()
				}
				if err != nil {
					metrics.AddBatch(tp.Spec.Name, "error")
					setErr(fmt.Errorf("load %s: %w", tp.Spec.Name, err))
					if e.DebugTimings {
						logf("stage=fact_batch worker=%d status=error duration=%s err=%v", workerID, durMS(start), err)
					}
					continue
				}
				metrics.AddBatch(tp.Spec.Name, "ok")
				inserted.Add(n)
				if e.DebugTimings {
					logf("stage=fact_batch worker=%d status=ok rows=%d inserted=%d duration=%s", workerID, len(batch), n, durMS(start))
				}
			}
		}(w)
	}

	batch := make([]*transformer.Row, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out := batch
		batch = make([]*transformer.Row, 0, batchSize)
		select {
		case batchCh <- out:
		case <-ctx.Done():
			for _, r := range out {
				r.Drop()
			}
		}
	}

	for r := range rows {
		select {
		case <-ctx.Done():
			r.Drop()
			continue
		default:
		}
		batch = append(batch, r)
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()

	close(batchCh)
	wg.Wait()

	select {
	case err := <-errCh:
		return st, err
	default:
	}
	if err := context.Cause(ctx); err != nil {
		return st, err
	}

	st.Inserted = inserted.Load()
	metrics.AddRecords("loaded_"+tp.Spec.Kind, int(st.Inserted))
	return st, nil
}
