package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultScheduler is the Slurm submission command.
const DefaultScheduler = "sbatch"

// SubmissionError reports a unit the scheduler did not accept.
type SubmissionError struct {
	Unit     string
	ExitCode int // -1 when the scheduler could not be started
	Output   string
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("submit %s: scheduler exited with code %d: %s", e.Unit, e.ExitCode, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("submit %s: %v", e.Unit, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SubmitResult is the outcome of handing one unit to the scheduler.
type SubmitResult struct {
	Unit  Unit
	JobID string // Parsed from the scheduler output, empty if not reported
	Err   error
}

// Submitter hands job scripts to the scheduler binary.
type Submitter struct {
	// Scheduler is the submission command. Default: sbatch.
	Scheduler string

	// Args are placed before the script path, e.g. "--parsable".
	Args []string

	Logger *slog.Logger
}

var jobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submit runs the scheduler once per unit, in order. A failed submission is
// logged and recorded in its result; the remaining units are still
// submitted. Submit returns once every scheduler invocation has exited and
// does not wait for the jobs to run.
func (s *Submitter) Submit(ctx context.Context, units []Unit) []SubmitResult {
	scheduler := s.Scheduler
	if scheduler == "" {
		scheduler = DefaultScheduler
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]SubmitResult, 0, len(units))
	for _, u := range units {
		if ctx.Err() != nil {
			results = append(results, SubmitResult{Unit: u, Err: &SubmissionError{Unit: u.Path, ExitCode: -1, Err: ctx.Err()}})
			continue
		}

		r := SubmitResult{Unit: u}
		args := append(append([]string{}, s.Args...), u.Path)
		cmd := exec.CommandContext(ctx, scheduler, args...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		if err != nil {
			se := &SubmissionError{Unit: u.Path, ExitCode: -1, Output: out.String(), Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				se.ExitCode = exitErr.ExitCode()
			}
			r.Err = se
			logger.Error("submission failed", "shard", u.Index, "script", u.Path, "error", se)
		} else {
			if m := jobIDPattern.FindStringSubmatch(out.String()); m != nil {
				r.JobID = m[1]
			}
			logger.Info("submitted", "shard", u.Index, "script", u.Path, "job_id", r.JobID)
		}
		results = append(results, r)
	}
	return results
}

// Failed returns the results that carry an error.
func Failed(results []SubmitResult) []SubmitResult {
	var failed []SubmitResult
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
