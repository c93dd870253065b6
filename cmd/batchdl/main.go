package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
	"github.com/lisurui6/ukbb-batch-downloader/internal/submit"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitDataFormat       = 3
	ExitStorageError     = 4
	ExitTemplateError    = 5
	ExitSubmissionFailed = 6
	ExitItemsFailed      = 7
)

// Human-readable output; replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "master":
		return runMaster(cmdArgs)
	case "job":
		return runJob(cmdArgs)
	case "partition":
		return runPartition(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "clean":
		return runClean(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(stderr, `Usage: batchdl <command> [options]

Commands:
  master     Partition the work list, generate job scripts and submit them
  job        Fetch every identifier of one shard with a worker pool
  partition  Split a work list into shard files only
  status     Show per-shard results of a run
  clean      Remove a run's reports from the report bucket

Run 'batchdl <command> -h' for command-specific help.`)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[batchdl] Received interrupt, finishing in-flight items...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// exitCodeFor maps control-plane errors to exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case worklist.IsDataFormat(err):
		return ExitDataFormat
	case submit.IsTemplate(err):
		return ExitTemplateError
	case fsx.IsStorage(err):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}
