package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lisurui6/ukbb-batch-downloader/internal/config"
	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
	"github.com/lisurui6/ukbb-batch-downloader/internal/pool"
	"github.com/lisurui6/ukbb-batch-downloader/internal/progress"
	"github.com/lisurui6/ukbb-batch-downloader/internal/report"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// ReportsDir is the default report bucket directory under the output dir.
const ReportsDir = "reports"

// runJob fetches every identifier of one work list. It is what generated
// job scripts invoke on the compute nodes.
func runJob(args []string) int {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	fs.SetOutput(stderr)

	workList := fs.String("work-list", "", "Work list CSV (required)")
	key := fs.String("key", "", "Fetch tool credential file (required)")
	tool := fs.String("fetch-tool", "", "Fetch tool executable (required)")
	outputDir := fs.String("output-dir", "", "Output root (required)")
	workers := fs.Int("workers", 0, "Concurrent fetches (0 = serial)")
	idColumn := fs.String("id-column", worklist.DefaultColumn, "Identifier column")
	shard := fs.Int("shard", -1, "Shard index, -1 when not part of a run")
	runID := fs.String("run-id", "", "Run ID to report under")
	timeout := fs.Duration("fetch-timeout", 0, "Timeout per fetch tool invocation (0 = none)")
	bucketURL := fs.String("report-bucket", "", "Report bucket URL (default <output-dir>/reports)")
	fields := fs.String("fields", "", "Comma-separated fields, e.g. 20208_2_0,20209_2_0 (default from config)")
	showProgress := fs.Bool("progress", false, "Print periodic progress")
	configPath := fs.String("config", "", "YAML config file")
	verbose := fs.Bool("verbose", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: batchdl job [options]

Fetch every identifier listed in a work list. Archives land in
<output-dir>/images/zip. With -run-id and -shard, a shard report is
written to the report bucket when the pool drains.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	if *workList == "" || *key == "" || *tool == "" || *outputDir == "" {
		fmt.Fprintln(stderr, "Error: -work-list, -key, -fetch-tool and -output-dir are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fields":
			cfg.Fields, flagErr = config.ParseFields(*fields)
		case "workers":
			cfg.Workers = *workers
		case "id-column":
			cfg.IDColumn = *idColumn
		case "fetch-timeout":
			cfg.FetchTimeout = *timeout
		case "report-bucket":
			cfg.ReportBucket = *bucketURL
		case "progress":
			cfg.Progress = *showProgress
		}
	})
	if flagErr != nil {
		fmt.Fprintf(stderr, "Error: -fields: %v\n", flagErr)
		return ExitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	return jobMain(ctx, jobParams{
		WorkList:  *workList,
		Key:       *key,
		Tool:      *tool,
		OutputDir: *outputDir,
		Shard:     *shard,
		RunID:     *runID,
		Verbose:   *verbose,
	}, cfg)
}

type jobParams struct {
	WorkList  string
	Key       string
	Tool      string
	OutputDir string
	Shard     int
	RunID     string
	Verbose   bool
}

func jobMain(ctx context.Context, p jobParams, cfg config.Config) int {
	logger := newLogger(p.Verbose).With("shard", p.Shard)
	if p.RunID != "" {
		logger = logger.With("run_id", p.RunID)
	}

	wl, err := worklist.Read(p.WorkList, cfg.IDColumn)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	task, err := fetch.NewTask(fetch.Options{
		Tool:      p.Tool,
		Key:       p.Key,
		OutputDir: p.OutputDir,
		Fields:    cfg.Fields,
		Timeout:   cfg.FetchTimeout,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	reporter := progress.NewReporter(progress.Options{
		Total:   wl.Len(),
		Workers: cfg.Workers,
		Output:  stderr,
		Label:   filepath.Base(p.WorkList),
	})
	if cfg.Progress {
		reporter.Start()
	}

	started := time.Now()
	results := pool.Run(ctx, wl.IDs(), task, pool.Options{
		Workers:  cfg.Workers,
		Progress: reporter,
		Logger:   logger,
	})
	reporter.Stop()
	finished := time.Now()

	s := pool.Summarize(results)
	logger.Info("shard finished",
		"completed", s.Completed,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"elapsed", progress.FormatDuration(finished.Sub(started)),
	)

	code := ExitSuccess
	switch {
	case s.Failed > 0:
		code = ExitItemsFailed
	case ctx.Err() != nil:
		code = ExitGeneralError
	}

	if p.RunID == "" || p.Shard < 0 {
		logger.Debug("no run id or shard index, shard report not written")
		return code
	}

	// The report is written even after an interrupt.
	wctx := context.WithoutCancel(ctx)
	bucket, err := report.OpenBucket(wctx, cfg.ReportBucket, filepath.Join(p.OutputDir, ReportsDir))
	if err != nil {
		logger.Error("open report bucket", "error", err)
		return ExitStorageError
	}
	defer bucket.Close()

	r := report.NewShardReport(p.RunID, p.Shard, p.WorkList, results)
	r.Workers = cfg.Workers
	r.Cancelled = ctx.Err() != nil
	r.StartedAt = started
	r.FinishedAt = finished
	if err := report.WriteShard(wctx, bucket, r); err != nil {
		logger.Error("write shard report", "error", err)
		return ExitStorageError
	}
	return code
}
