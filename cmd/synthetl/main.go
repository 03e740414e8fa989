// Command synthetl profiles a cleaned table, augments it with synthetic
// records, normalizes the result into dimension and fact tables and loads
// them into the configured storage backend.
//
//	synthetl -config configs/pipelines/sample.json [-validate] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"synthetl/internal/config"

	// register all backends with the storage factory.
	_ "synthetl/internal/storage/all"
)

// runner executes one configured job.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) error
}

// appDeps are the side-effecting seams runMain uses, so the CLI flow is
// testable without files, databases or metrics endpoints.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newRunner   func(verbose bool, stderr io.Writer) runner
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newRunner:   newPipelineRunner,
		initMetrics: initMetrics,
	}
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses args and runs the job. It returns the process exit code:
// 0 on success, 1 on runtime errors, 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("synthetl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		metricsBackend string
		validate       bool
		verbose        bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&metricsBackend, "metrics-backend", os.Getenv("METRICS_BACKEND"), "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: synthetl -config path/to/pipeline.json [-validate] [-metrics-backend none|datadog|pushgateway] [-v]")
		return 2
	}

	p, err := deps.loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "config is invalid: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintf(stdout, "config is valid: %s\n", cfgPath)
		return 0
	}

	cleanup, err := deps.initMetrics(ctx, p.Job, metricsBackend)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	if err := deps.newRunner(verbose, stderr).Run(ctx, p); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if verbose {
		fmt.Fprintf(stderr, "completed in %s\n", time.Since(start).Truncate(time.Millisecond))
	}

	fmt.Fprintln(stdout, "ok")
	return 0
}
