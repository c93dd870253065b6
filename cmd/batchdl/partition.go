package main

import (
	"flag"
	"fmt"

	"github.com/lisurui6/ukbb-batch-downloader/internal/partition"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// runPartition splits a work list into shard files without generating or
// submitting anything.
func runPartition(args []string) int {
	fs := flag.NewFlagSet("partition", flag.ContinueOnError)
	fs.SetOutput(stderr)

	workList := fs.String("work-list", "", "Work list CSV (required)")
	nPartition := fs.Int("n-partition", 0, "Number of shards (required)")
	outputDir := fs.String("output-dir", "", "Directory for partition_csv_<i>.csv files (required)")
	idColumn := fs.String("id-column", worklist.DefaultColumn, "Identifier column")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: batchdl partition [options]

Split a work list into -n-partition order-preserving shards.
Prints one shard path per line.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	if *workList == "" || *outputDir == "" || *nPartition == 0 {
		fmt.Fprintln(stderr, "Error: -work-list, -n-partition and -output-dir are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *nPartition < 1 {
		fmt.Fprintln(stderr, "Error: -n-partition must be at least 1")
		return ExitInvalidArgs
	}

	paths, err := partition.PartitionFile(*workList, *idColumn, *nPartition, *outputDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return ExitSuccess
}
