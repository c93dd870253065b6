package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lisurui6/ukbb-batch-downloader/internal/report"
)

// stdin is read for the confirmation prompt; replaced in tests.
var stdin io.Reader = os.Stdin

// runClean removes the manifest and every shard report of a run.
// By default prompts for confirmation unless -force is specified.
func runClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.SetOutput(stderr)

	runID := fs.String("run-id", "", "Run ID printed by master (required)")
	outputDir := fs.String("output-dir", "", "Output root, locates the default report bucket")
	bucketURL := fs.String("report-bucket", "", "Report bucket URL (default <output-dir>/reports)")
	configPath := fs.String("config", "", "YAML config file")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: batchdl clean [options]

Remove a run's manifest and shard reports from the report bucket.
Downloaded archives are not touched.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	loc, code := resolveBucket(*runID, *outputDir, *bucketURL, *configPath)
	if code != ExitSuccess {
		fs.Usage()
		return code
	}

	if !*force {
		fmt.Fprintf(stderr, "Delete reports of run %s? [y/N]: ", *runID)
		response, _ := bufio.NewReader(stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(stderr, "Cancelled")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	bucket, err := report.OpenBucket(ctx, loc.url, loc.dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	n, err := report.Delete(ctx, bucket, *runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, report.ErrNoRun) {
			return ExitGeneralError
		}
		return ExitStorageError
	}

	fmt.Fprintf(stderr, "[batchdl] Deleted %d report objects of run %s\n", n, *runID)
	return ExitSuccess
}
