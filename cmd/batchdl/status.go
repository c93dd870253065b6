package main

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/lisurui6/ukbb-batch-downloader/internal/config"
	"github.com/lisurui6/ukbb-batch-downloader/internal/report"
)

// runStatus prints per-shard results of a run from the report bucket.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	runID := fs.String("run-id", "", "Run ID printed by master (required)")
	outputDir := fs.String("output-dir", "", "Output root, locates the default report bucket")
	bucketURL := fs.String("report-bucket", "", "Report bucket URL (default <output-dir>/reports)")
	configPath := fs.String("config", "", "YAML config file")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: batchdl status [options]

Show completed/failed/skipped counts for each shard of a run and list the
shards that have not reported yet. Exits 0 only when every shard reported
and no item failed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	bucketLoc, code := resolveBucket(*runID, *outputDir, *bucketURL, *configPath)
	if code != ExitSuccess {
		fs.Usage()
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	bucket, err := report.OpenBucket(ctx, bucketLoc.url, bucketLoc.dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	st, err := report.Status(ctx, bucket, *runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, report.ErrNoRun) {
			return ExitGeneralError
		}
		return ExitStorageError
	}

	fmt.Fprintf(stdout, "Run: %s\n", st.RunID)
	if st.Manifest != nil {
		fmt.Fprintf(stdout, "Work list: %s (%d items)\n", st.Manifest.WorkList, st.Manifest.Items)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tJOB\tCOMPLETED\tFAILED\tSKIPPED")
	for _, s := range st.Shards {
		job := s.JobID
		if job == "" {
			job = "-"
		}
		if !s.Reported {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\n", s.Index, job)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", s.Index, job, s.Summary.Completed, s.Summary.Failed, s.Summary.Skipped)
	}
	tw.Flush()

	fmt.Fprintf(stdout, "Total: %d completed | %d failed | %d skipped\n", st.Totals.Completed, st.Totals.Failed, st.Totals.Skipped)
	if len(st.Missing) > 0 {
		fmt.Fprintf(stdout, "Pending shards: %v\n", st.Missing)
		return ExitGeneralError
	}
	if st.Totals.Failed > 0 {
		return ExitItemsFailed
	}
	return ExitSuccess
}

type bucketLocation struct {
	url string
	dir string
}

// resolveBucket checks the flags shared by status and clean and works out
// where the run's reports live.
func resolveBucket(runID, outputDir, bucketURL, configPath string) (bucketLocation, int) {
	if runID == "" {
		fmt.Fprintln(stderr, "Error: -run-id is required")
		return bucketLocation{}, ExitInvalidArgs
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return bucketLocation{}, ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{ReportBucket: bucketURL})

	if cfg.ReportBucket == "" && outputDir == "" {
		fmt.Fprintln(stderr, "Error: one of -report-bucket or -output-dir is required")
		return bucketLocation{}, ExitInvalidArgs
	}
	return bucketLocation{url: cfg.ReportBucket, dir: filepath.Join(outputDir, ReportsDir)}, ExitSuccess
}
