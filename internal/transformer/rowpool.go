// Package transformer holds the pooled row type shared by the CSV reader and
// the export engine, plus the streaming row-hash stage.
package transformer

import "sync"

// Row is a pooled positional row.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() after it is done with the Row and
//     anything referencing r.V.
//
// On ctx cancellation use Drop() instead: a canceled producer may still be
// unwinding, and a re-pooled row could be handed out again while a draining
// stage still reads it.
type Row struct {
	V    []any
	Line int // 1-based source record number, or fact row number on export
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every cell nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without returning it to the pool.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
