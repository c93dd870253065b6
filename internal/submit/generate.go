// Package submit renders one executable job script per shard and hands the
// scripts to the cluster's batch scheduler.
//
// Generation is pure text composition: a fixed scheduler header (the
// template, e.g. #SBATCH directives) followed by a single invocation line
// that runs `batchdl job` over one shard. Submission runs the scheduler
// binary once per script and never waits for the jobs themselves.
package submit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
)

// Input directory layout expected by the master run.
const (
	CSVDir   = "csv"
	UtilsDir = "utils"
	KeyDir   = "key"
)

// TemplateError is returned when the scheduler template cannot be read.
type TemplateError struct {
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("submit: read template %s: %v", e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// IsTemplate reports whether err is or wraps a *TemplateError.
func IsTemplate(err error) bool {
	var e *TemplateError
	return errors.As(err, &e)
}

// LoadTemplate reads the scheduler header template at path.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &TemplateError{Path: path, Err: err}
	}
	return string(data), nil
}

// Unit is one generated submission script.
type Unit struct {
	Index int    // Shard index
	Shard string // Shard work list path
	Path  string // Script path
}

// Generator renders job scripts.
type Generator struct {
	// JobCommand is the executable the scripts invoke with the `job`
	// subcommand. Usually the absolute path of the running binary.
	JobCommand string

	// ScriptDir is where job_<i>.sh files are written.
	ScriptDir string

	// RunID is passed through to every job so shard reports can be grouped.
	RunID string

	// KeyName and FetchToolName are resolved under inputDir/key and
	// inputDir/utils.
	KeyName       string
	FetchToolName string

	// IDColumn is the identifier column of the shard files.
	IDColumn string

	// FetchTimeout is passed through verbatim when non-empty.
	FetchTimeout string

	// ReportBucket is passed through when non-empty.
	ReportBucket string

	// ConfigPath is the master's config file, handed to every job so
	// file-only settings reach the compute nodes.
	ConfigPath string

	// Fields are rendered as -fields when non-empty.
	Fields []fetch.Field

	// Progress adds -progress.
	Progress bool
}

// ScriptName returns the script file name for shard i.
func ScriptName(i int) string {
	return fmt.Sprintf("job_%d.sh", i)
}

// Generate writes one script per shard path and returns the units in shard
// order. The template is emitted verbatim, newline-terminated, followed by
// the invocation line.
func (g *Generator) Generate(template, inputDir string, shardPaths []string, outputDir string, workers int) ([]Unit, error) {
	if g.ScriptDir == "" {
		return nil, errors.New("submit: script dir is required")
	}
	if template != "" && !strings.HasSuffix(template, "\n") {
		template += "\n"
	}

	units := make([]Unit, 0, len(shardPaths))
	for i, shard := range shardPaths {
		line := g.Command(i, inputDir, shard, outputDir, workers)
		name := ScriptName(i)
		if err := fsx.WriteFileAtomic(g.ScriptDir, name, []byte(template+line+"\n"), 0o755); err != nil {
			return nil, fmt.Errorf("write script for shard %d: %w", i, err)
		}
		units = append(units, Unit{
			Index: i,
			Shard: shard,
			Path:  filepath.Join(g.ScriptDir, name),
		})
	}
	return units, nil
}

// Command renders the invocation line for shard i.
func (g *Generator) Command(i int, inputDir, shard, outputDir string, workers int) string {
	args := []string{
		g.JobCommand, "job",
		"-shard", strconv.Itoa(i),
		"-work-list", shard,
		"-key", filepath.Join(inputDir, KeyDir, g.KeyName),
		"-fetch-tool", filepath.Join(inputDir, UtilsDir, g.FetchToolName),
		"-output-dir", outputDir,
		"-workers", strconv.Itoa(workers),
	}
	if g.RunID != "" {
		args = append(args, "-run-id", g.RunID)
	}
	if g.IDColumn != "" {
		args = append(args, "-id-column", g.IDColumn)
	}
	if g.FetchTimeout != "" {
		args = append(args, "-fetch-timeout", g.FetchTimeout)
	}
	if g.ReportBucket != "" {
		args = append(args, "-report-bucket", g.ReportBucket)
	}
	if g.ConfigPath != "" {
		args = append(args, "-config", g.ConfigPath)
	}
	if len(g.Fields) > 0 {
		args = append(args, "-fields", FormatFields(g.Fields))
	}
	if g.Progress {
		args = append(args, "-progress")
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// FormatFields renders fields as a comma-separated list, e.g.
// "20208_2_0,20209_2_0".
func FormatFields(fields []fetch.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

// shellQuote single-quotes s unless it only holds characters the shell
// leaves alone.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
