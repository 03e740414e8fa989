package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"synthetl/internal/metrics"
	"synthetl/internal/metrics/datadog"
	"synthetl/internal/metrics/prompush"
)

// metricsBackend is what cleanup needs from a constructed backend.
type metricsBackend interface {
	Close() error
}

// pushCloser flushes a Pushgateway backend once on Close.
type pushCloser struct{ b *prompush.Backend }

func (p pushCloser) Close() error { return p.b.Flush() }

// Seams overridden by tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return pushCloser{b: b}, nil
	}
	setMetricsBackend = func(b any) {
		switch t := b.(type) {
		case metrics.Backend:
			metrics.SetBackend(t)
		case pushCloser:
			metrics.SetBackend(t.b)
		}
	}
	logPrintf = log.Printf
)

// initMetrics selects and installs the metrics backend. The returned cleanup
// is never nil and is safe to call once, even when err is non-nil.
//
// Backends:
//   - "", "none", "noop": metrics disabled, global state untouched
//   - "datadog", "dd": periodic submit plus a final flush on cleanup;
//     extra tags from METRICS_TAGS
//   - "pushgateway", "prometheus": one push on cleanup to PUSHGATEWAY_URL
//     (default http://localhost:9091)
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	noop := func() {}
	if jobName == "" {
		jobName = "synthetl"
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		url := os.Getenv("PUSHGATEWAY_URL")
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err := newPushBackend(jobName, url)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
	}
}
