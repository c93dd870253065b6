// Package fetch runs the per-item download: it writes a batch file listing
// the requested fields for one subject, runs the external fetch tool in a
// staging directory private to that subject, and moves the resulting
// archives into the run's zip storage.
//
// # Output Layout
//
//	{outputDir}/images/zip/{id}_{field}_{visit}_{instance}.zip
//	{outputDir}/batch/{id}_batch      (exists only while the tool runs)
//	{outputDir}/staging/{id}/         (exists only while the task runs)
//
// # Failure Isolation
//
// Fetch never returns an error. Every failure (tool exit code, timeout,
// filesystem) is recorded in the Result so a worker pool can keep going.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
)

// Output subdirectories.
const (
	ZipDir     = "images/zip"
	BatchDir   = "batch"
	StagingDir = "staging"
)

// Status is the outcome of one work item.
type Status string

const (
	// StatusCompleted means the tool exited zero and archives were moved.
	StatusCompleted Status = "completed"
	// StatusFailed means the tool or the filesystem reported an error.
	StatusFailed Status = "failed"
	// StatusSkipped means the item was never dispatched (run cancelled).
	StatusSkipped Status = "skipped"
)

// ErrInvalidID is returned for identifiers that are not safe to use as a
// file name component.
var ErrInvalidID = errors.New("fetch: invalid identifier")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FetchToolError reports a fetch tool run that did not exit cleanly.
type FetchToolError struct {
	ID       string
	ExitCode int    // -1 when the tool could not start or was killed
	TimedOut bool   // true when the per-invocation timeout killed the tool
	Stderr   string // tail of the tool's stderr
	Err      error
}

func (e *FetchToolError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("fetch %s: tool timed out", e.ID)
	case e.ExitCode >= 0:
		msg := fmt.Sprintf("fetch %s: tool exited with code %d", e.ID, e.ExitCode)
		if e.Stderr != "" {
			msg += ": " + e.Stderr
		}
		return msg
	default:
		return fmt.Sprintf("fetch %s: %v", e.ID, e.Err)
	}
}

func (e *FetchToolError) Unwrap() error { return e.Err }

// Result is the outcome of one Fetch call.
type Result struct {
	ID       string
	Status   Status
	Archives []string // Final archive paths under the zip dir
	ExitCode int
	Err      error
	Duration time.Duration
}

// Fetcher downloads the data of one work item. Task is the production
// implementation; the worker pool accepts any Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, id string) Result
}

// Options configures a Task.
type Options struct {
	// Tool is the fetch executable (ukbfetch).
	Tool string

	// Key is the credential file passed to the tool with -a.
	Key string

	// OutputDir is the run's output root.
	OutputDir string

	// Fields are requested for every identifier. Default: DefaultFields.
	Fields []Field

	// Timeout bounds a single tool invocation. Zero means no limit.
	Timeout time.Duration

	// Logger receives per-item diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Task runs the fetch tool for single identifiers. It is safe for
// concurrent use: all per-item state lives in identifier-scoped paths.
type Task struct {
	opts    Options
	zipDir  string
	batch   string
	staging string
}

// NewTask validates opts and resolves paths to absolute form, since the tool
// runs with the staging directory as its working directory.
func NewTask(opts Options) (*Task, error) {
	if opts.Tool == "" {
		return nil, errors.New("fetch: tool path is required")
	}
	if opts.Key == "" {
		return nil, errors.New("fetch: key path is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("fetch: output dir is required")
	}
	if len(opts.Fields) == 0 {
		opts.Fields = DefaultFields
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var err error
	if strings.ContainsRune(opts.Tool, filepath.Separator) {
		if opts.Tool, err = filepath.Abs(opts.Tool); err != nil {
			return nil, fmt.Errorf("fetch: resolve tool: %w", err)
		}
	}
	if opts.Key, err = filepath.Abs(opts.Key); err != nil {
		return nil, fmt.Errorf("fetch: resolve key: %w", err)
	}
	if opts.OutputDir, err = filepath.Abs(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("fetch: resolve output dir: %w", err)
	}

	return &Task{
		opts:    opts,
		zipDir:  filepath.Join(opts.OutputDir, filepath.FromSlash(ZipDir)),
		batch:   filepath.Join(opts.OutputDir, BatchDir),
		staging: filepath.Join(opts.OutputDir, StagingDir),
	}, nil
}

// ZipDir returns the absolute archive storage directory.
func (t *Task) ZipDir() string { return t.zipDir }

// Fetch downloads the archives for id. It always returns a Result; the
// batch file is gone when Fetch returns, whatever the outcome.
//
// Cancelling ctx does not interrupt a running tool invocation; only
// Options.Timeout does.
func (t *Task) Fetch(ctx context.Context, id string) (res Result) {
	start := time.Now()
	res = Result{ID: id, ExitCode: -1}
	logger := t.opts.Logger.With("eid", id)

	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Status = StatusFailed
			logger.Warn("fetch failed", "error", res.Err, "duration", res.Duration)
		} else {
			res.Status = StatusCompleted
			logger.Debug("fetch completed", "archives", len(res.Archives), "duration", res.Duration)
		}
	}()

	if !idPattern.MatchString(id) {
		res.Err = fmt.Errorf("%w: %q", ErrInvalidID, id)
		return res
	}

	if err := fsx.MkdirAll(t.zipDir); err != nil {
		res.Err = err
		return res
	}

	manifest, err := writeManifest(t.batch, id, t.opts.Fields)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if err := fsx.Remove(manifest); err != nil {
			logger.Error("remove batch file", "error", err)
			res.Err = errors.Join(res.Err, err)
		}
	}()

	workDir := filepath.Join(t.staging, id)
	if err := fsx.MkdirAll(workDir); err != nil {
		res.Err = err
		return res
	}
	defer func() {
		// Only an empty staging dir is removed; leftovers stay for inspection.
		if err := os.Remove(workDir); err != nil && !os.IsNotExist(err) {
			logger.Warn("staging dir not empty, leaving it in place", "dir", workDir)
		}
	}()

	toolErr := t.run(ctx, id, manifest, workDir, &res)

	archives, moveErr := t.collect(id, workDir)
	res.Archives = archives
	res.Err = errors.Join(toolErr, moveErr)
	return res
}

// run executes the fetch tool in workDir and records its exit code.
func (t *Task) run(ctx context.Context, id, manifest, workDir string, res *Result) error {
	runCtx := context.WithoutCancel(ctx)
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, t.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, t.opts.Tool, "-b"+manifest, "-a"+t.opts.Key)
	cmd.Dir = workDir
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stdout.Len() > 0 {
		t.opts.Logger.Debug("fetch tool output", "eid", id, "stdout", tail(stdout.String(), 2048))
	}
	if err == nil {
		res.ExitCode = 0
		return nil
	}

	fe := &FetchToolError{ID: id, ExitCode: -1, Stderr: tail(stderr.String(), 2048), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		fe.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fe.TimedOut = true
		fe.ExitCode = -1
	}
	res.ExitCode = fe.ExitCode
	return fe
}

// collect moves every {id}_*.zip from workDir into the zip dir.
func (t *Task) collect(id, workDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(workDir, id+"_*.zip"))
	if err != nil {
		return nil, &fsx.StorageError{Op: "glob", Path: workDir, Err: err}
	}

	var moved []string
	var errs []error
	for _, src := range matches {
		dst := filepath.Join(t.zipDir, filepath.Base(src))
		if err := fsx.Move(src, dst); err != nil {
			errs = append(errs, err)
			continue
		}
		moved = append(moved, dst)
	}
	return moved, errors.Join(errs...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
