package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"synthetl/internal/config"
	"synthetl/internal/metrics/datadog"
)

// fakeRunner records calls and returns a configurable error.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
	verbose bool
}

func (r *fakeRunner) Run(ctx context.Context, p config.Pipeline) error {
	_ = ctx
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = p
	r.mu.Unlock()
	return r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func validPipeline() config.Pipeline {
	seed := uint64(7)
	return config.Pipeline{
		Job:     "job1",
		Source:  config.Source{Kind: "file", Format: "csv", File: &config.FileSource{Path: "in.csv"}},
		Augment: config.Augment{RandomSeed: &seed},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: []string{}, wantStderrSub: "usage: synthetl -config"},
		{name: "empty_config_value", args: []string{"-config", "   "}, wantStderrSub: "usage: synthetl -config"},
		{name: "unknown_flag_is_usage_error", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer

			// Every seam fatals: usage failures must stop before side effects.
			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{
				loadConfig: func(string) (config.Pipeline, error) {
					t.Fatalf("loadConfig must not be called on usage errors")
					return config.Pipeline{}, nil
				},
				newRunner: func(bool, io.Writer) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return &fakeRunner{}
				},
				initMetrics: func(context.Context, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return func() {}, nil
				},
			})

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	// Error precedence: load -> validate -> initMetrics -> run.
	tests := []struct {
		name             string
		loadErr          error
		invalid          bool
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "read_config_error",
			loadErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "read config:",
		},
		{
			name:          "invalid_config",
			invalid:       true,
			wantCode:      1,
			wantStderrSub: "config is invalid:",
		},
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("db failed"),
			wantCode:         1,
			wantStderrSub:    "run: db failed",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}

			var cleanupCalls atomic.Int64
			cleanup := func() { cleanupCalls.Add(1) }

			deps := appDeps{
				loadConfig: func(path string) (config.Pipeline, error) {
					if path != "cfg.json" {
						t.Fatalf("loadConfig path=%q, want %q", path, "cfg.json")
					}
					if tc.loadErr != nil {
						return config.Pipeline{}, tc.loadErr
					}
					p := validPipeline()
					if tc.invalid {
						p.Source.Kind = "kafka"
					}
					return p, nil
				},
				initMetrics: func(_ context.Context, jobName, backendName string) (func(), error) {
					if jobName != "job1" {
						t.Fatalf("jobName=%q, want %q", jobName, "job1")
					}
					if backendName != "none" {
						t.Fatalf("backendName=%q, want %q", backendName, "none")
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return cleanup, nil
				},
				newRunner: func(verbose bool, _ io.Writer) runner {
					fr.verbose = verbose
					return fr
				},
			}

			code := runMain(context.Background(), []string{"-config", "cfg.json", "-metrics-backend", "none"}, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
			if tc.wantRunnerCalls > 0 && fr.lastCfg.Job != "job1" {
				t.Fatalf("runner got job=%q, want %q", fr.lastCfg.Job, "job1")
			}
		})
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-validate"}, &stdout, &stderr, appDeps{
		loadConfig: func(string) (config.Pipeline, error) { return validPipeline(), nil },
		newRunner: func(bool, io.Writer) runner {
			t.Fatalf("newRunner must not be called with -validate")
			return nil
		},
		initMetrics: func(context.Context, string, string) (func(), error) {
			t.Fatalf("initMetrics must not be called with -validate")
			return nil, nil
		},
	})
	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "config is valid: cfg.json\n" {
		t.Fatalf("stdout=%q", got)
	}
}

func TestRunMain_WarningsDoNotFail(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-v", "-metrics-backend", "none"}, &stdout, &stderr, appDeps{
		loadConfig: func(string) (config.Pipeline, error) {
			p := validPipeline()
			p.Job = ""
			p.Augment.RandomSeed = nil
			return p, nil
		},
		newRunner: func(verbose bool, _ io.Writer) runner {
			fr.verbose = verbose
			return fr
		},
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
	})
	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "warning: augment.random_seed") {
		t.Fatalf("stderr=%q, want random_seed warning", stderr.String())
	}
	if !fr.verbose {
		t.Fatalf("runner verbose=false, want true")
	}
}

// TestRunMain_EndToEndCSVDir runs the real runner from a job file to CSV
// output files.
func TestRunMain_EndToEndCSVDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "survey.csv")
	out := filepath.Join(dir, "out")
	if err := os.WriteFile(in, []byte("region,score\nNorth,10\nSouth,14\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	job := fmt.Sprintf(`{
  "job": "e2e",
  "source": {"kind": "file", "format": "csv", "file": {"path": %q}},
  "augment": {"scale_factor": 2, "random_seed": 42},
  "storage": {"kind": "csvdir", "dsn": %q, "table_prefix": "s_"}
}`, in, out)
	cfgPath := filepath.Join(dir, "job.json")
	if err := os.WriteFile(cfgPath, []byte(job), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := defaultDeps()
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}
	if stdout.String() != "ok\n" {
		t.Fatalf("stdout=%q, want ok", stdout.String())
	}

	b, err := os.ReadFile(filepath.Join(out, "s_fact.csv"))
	if err != nil {
		t.Fatalf("read fact: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 7 {
		t.Fatalf("fact lines=%d, want header plus 6 rows:\n%s", len(lines), b)
	}

	b, err = os.ReadFile(filepath.Join(out, "s_region.csv"))
	if err != nil {
		t.Fatalf("read region: %v", err)
	}
	if got := strings.Count(strings.TrimSpace(string(b)), "\n"); got != 2 {
		t.Fatalf("region rows=%d, want 2:\n%s", got, b)
	}
}

// The tests below swap package-level seams, so they do not run in parallel.

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()

	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), "job", name)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("JobName=%q, want %q", gotOpts.JobName, "jobA")
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1 and 1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "job", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want close error with cause", logged.String())
	}
}

func TestInitMetrics_Pushgateway_UsesDefaultJobAndFlushes(t *testing.T) {
	b := &fakeMetricsBackend{}

	oldNew, oldSet := newPushBackend, setMetricsBackend
	defer func() { newPushBackend, setMetricsBackend = oldNew, oldSet }()

	var gotJob, gotURL string
	newPushBackend = func(job, url string) (metricsBackend, error) {
		gotJob, gotURL = job, url
		return b, nil
	}
	setMetricsBackend = func(any) {}

	t.Setenv("PUSHGATEWAY_URL", "")
	cleanup, err := initMetrics(context.Background(), "", "pushgateway")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotJob != "synthetl" || gotURL != "http://localhost:9091" {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
}

func TestInitMetrics_ConstructorErrorReturnsNoopCleanup(t *testing.T) {
	oldNew := newDatadogBackend
	defer func() { newDatadogBackend = oldNew }()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("no api key")
	}

	cleanup, err := initMetrics(context.Background(), "job", "datadog")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog") {
		t.Fatalf("err=%q", err.Error())
	}
}

func BenchmarkRunMain_Success_NoIO(b *testing.B) {
	ctx := context.Background()
	fr := &fakeRunner{}
	p := validPipeline()

	deps := appDeps{
		loadConfig:  func(string) (config.Pipeline, error) { return p, nil },
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
		newRunner:   func(bool, io.Writer) runner { return fr },
	}
	args := []string{"-config", "cfg.json", "-metrics-backend", "none"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stdout, stderr bytes.Buffer
		if code := runMain(ctx, args, &stdout, &stderr, deps); code != 0 {
			b.Fatalf("code=%d, stderr=%q", code, stderr.String())
		}
	}
}

// TestSampleJobRuns keeps configs/pipelines/sample.json valid and runnable.
func TestSampleJobRuns(t *testing.T) {
	t.Parallel()

	p, err := config.Load(filepath.Join("..", "..", "configs", "pipelines", "sample.json"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		t.Fatalf("sample is invalid: %v", issues)
	}

	p.Source.File.Path = filepath.Join("..", "..", p.Source.File.Path)
	p.Storage.DSN = ":memory:"

	var logs bytes.Buffer
	if err := newPipelineRunner(true, &logs).Run(context.Background(), p); err != nil {
		t.Fatalf("run sample: %v\n%s", err, logs.String())
	}
	for _, want := range []string{"pipeline done", "table loaded", "capscan_fact", "capscan_long"} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("logs missing %q:\n%s", want, logs.String())
		}
	}
}
