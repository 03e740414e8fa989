// Package metrics is the process-wide metrics facade.
//
// Engines record through the package-level functions; cmd/ selects a Backend
// (Datadog, Prometheus Pushgateway, or none) at startup. The default backend
// discards everything, so packages and tests never need a setup step.
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by the pipeline and export engines.
const (
	StepTotal           = "synth_step_total"
	StepDurationSeconds = "synth_step_duration_seconds"
	RecordsTotal        = "synth_records_total"
	BatchesTotal        = "synth_batches_total"
)

// Labels are metric dimensions such as step and status.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to counter name.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample for histogram name.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit buffered data.
func Flush() error { return current().Flush() }

// RecordStep counts one completed step and records its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// AddRecords counts n records of a kind, e.g. "real", "synthetic" or
// "loaded_fact".
func AddRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// AddBatch counts one batch written to table.
func AddBatch(table, status string) {
	current().IncCounter(BatchesTotal, 1, Labels{"table": table, "status": status})
}
