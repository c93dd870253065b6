package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lisurui6/ukbb-batch-downloader/internal/config"
	"github.com/lisurui6/ukbb-batch-downloader/internal/partition"
	"github.com/lisurui6/ukbb-batch-downloader/internal/report"
	"github.com/lisurui6/ukbb-batch-downloader/internal/submit"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// Run layout under the output dir and the template under <input-dir>/utils.
const (
	ShardDir     = "temp/csv"
	JobDir       = "temp/jobs"
	TemplateName = "batch_template.txt"
)

// runMaster partitions the work list, writes one job script per shard and
// submits them to the batch scheduler.
func runMaster(args []string) int {
	fs := flag.NewFlagSet("master", flag.ContinueOnError)
	fs.SetOutput(stderr)

	inputDir := fs.String("input-dir", "", "Input root with csv/, utils/ and key/ (required)")
	nPartition := fs.Int("n-partition", 0, "Number of shards (required)")
	outputDir := fs.String("output-dir", "", "Output root (required)")
	workers := fs.Int("workers", 0, "Concurrent fetches per job (0 = serial)")
	workListName := fs.String("work-list-name", "", "Work list file under <input-dir>/csv (default ukbb_40616_new_eids.csv)")
	template := fs.String("template", "", "Scheduler template (default <input-dir>/utils/batch_template.txt)")
	scriptDir := fs.String("script-dir", "", "Job script directory (default <output-dir>/temp/jobs)")
	scheduler := fs.String("scheduler", "", "Scheduler submission command (default sbatch)")
	dryRun := fs.Bool("dry-run", false, "Generate scripts without submitting")
	bucketURL := fs.String("report-bucket", "", "Report bucket URL (default <output-dir>/reports)")
	configPath := fs.String("config", "", "YAML config file")
	verbose := fs.Bool("verbose", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: batchdl master [options]

Split <input-dir>/csv/<work-list-name> into -n-partition shards, write one
job script per shard and submit each with the scheduler. Prints the run ID
used for 'batchdl status' and 'batchdl clean'.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	if *inputDir == "" || *outputDir == "" || *nPartition == 0 {
		fmt.Fprintln(stderr, "Error: -input-dir, -n-partition and -output-dir are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *nPartition < 1 {
		fmt.Fprintln(stderr, "Error: -n-partition must be at least 1")
		return ExitInvalidArgs
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		WorkListName: *workListName,
		Template:     *template,
		ScriptDir:    *scriptDir,
		Scheduler:    *scheduler,
		ReportBucket: *bucketURL,
	})
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "workers" {
			cfg.Workers = *workers
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	return masterMain(ctx, masterParams{
		ConfigPath: *configPath,
		InputDir:   *inputDir,
		OutputDir:  *outputDir,
		Partitions: *nPartition,
		DryRun:     *dryRun,
		Verbose:    *verbose,
	}, cfg)
}

type masterParams struct {
	ConfigPath string // handed on to every job
	InputDir   string
	OutputDir  string
	Partitions int
	DryRun     bool
	Verbose    bool
	RunID      string // generated when empty
	JobCommand string // os.Executable when empty
}

func masterMain(ctx context.Context, p masterParams, cfg config.Config) int {
	inputDir, err := filepath.Abs(p.InputDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	outputDir, err := filepath.Abs(p.OutputDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	configPath := p.ConfigPath
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}

	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := newLogger(p.Verbose).With("run_id", runID)

	workListPath := filepath.Join(inputDir, submit.CSVDir, cfg.WorkListName)
	wl, err := worklist.Read(workListPath, cfg.IDColumn)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	shards, err := partition.Partition(wl, p.Partitions, filepath.Join(outputDir, filepath.FromSlash(ShardDir)))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	logger.Info("work list partitioned", "items", wl.Len(), "shards", len(shards))

	templatePath := cfg.Template
	if templatePath == "" {
		templatePath = filepath.Join(inputDir, submit.UtilsDir, TemplateName)
	}
	tmpl, err := submit.LoadTemplate(templatePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitTemplateError
	}

	scriptDir := cfg.ScriptDir
	if scriptDir == "" {
		scriptDir = filepath.Join(outputDir, filepath.FromSlash(JobDir))
	}
	jobCommand := p.JobCommand
	if jobCommand == "" {
		if jobCommand, err = os.Executable(); err != nil {
			jobCommand = "batchdl"
		}
	}

	gen := &submit.Generator{
		JobCommand:    jobCommand,
		ScriptDir:     scriptDir,
		RunID:         runID,
		KeyName:       cfg.KeyName,
		FetchToolName: cfg.FetchToolName,
		IDColumn:      cfg.IDColumn,
		ReportBucket:  cfg.ReportBucket,
		ConfigPath:    configPath,
		Fields:        cfg.Fields,
		Progress:      cfg.Progress,
	}
	if cfg.FetchTimeout > 0 {
		gen.FetchTimeout = cfg.FetchTimeout.String()
	}
	units, err := gen.Generate(tmpl, inputDir, shards, outputDir, cfg.Workers)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	logger.Info("job scripts written", "dir", scriptDir, "count", len(units))

	bucket, err := report.OpenBucket(ctx, cfg.ReportBucket, filepath.Join(outputDir, ReportsDir))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	manifest := &report.RunManifest{
		RunID:      runID,
		WorkList:   workListPath,
		Items:      wl.Len(),
		Partitions: p.Partitions,
		OutputDir:  outputDir,
		Workers:    cfg.Workers,
		DryRun:     p.DryRun,
		Units:      make([]report.Unit, len(units)),
		CreatedAt:  time.Now(),
	}
	for i, u := range units {
		manifest.Units[i] = report.Unit{Index: u.Index, Shard: u.Shard, Script: u.Path}
	}
	if err := report.WriteManifest(ctx, bucket, manifest); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stderr, "[batchdl] Run ID: %s\n", runID)
	fmt.Fprintln(stdout, runID)

	if p.DryRun {
		fmt.Fprintf(stderr, "[batchdl] Dry run: %d scripts in %s, nothing submitted\n", len(units), scriptDir)
		return ExitSuccess
	}

	submitter := &submit.Submitter{
		Scheduler: cfg.Scheduler,
		Args:      cfg.SchedulerArgs,
		Logger:    logger,
	}
	results := submitter.Submit(ctx, units)
	for i, r := range results {
		manifest.Units[i].JobID = r.JobID
		if r.Err != nil {
			manifest.Units[i].SubmitError = r.Err.Error()
		}
	}
	if err := report.WriteManifest(context.WithoutCancel(ctx), bucket, manifest); err != nil {
		logger.Error("update run manifest", "error", err)
	}

	failed := submit.Failed(results)
	fmt.Fprintf(stderr, "[batchdl] Submitted %d/%d jobs\n", len(results)-len(failed), len(results))
	if len(failed) > 0 {
		for _, r := range failed {
			fmt.Fprintf(stderr, "  - %v\n", r.Err)
		}
		return ExitSubmissionFailed
	}
	return ExitSuccess
}
