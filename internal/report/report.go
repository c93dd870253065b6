package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
)

// ErrNoRun is returned when a run has neither a manifest nor shard reports.
var ErrNoRun = errors.New("report: run not found")

// Summary counts items by status.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Total += o.Total
	s.Completed += o.Completed
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// Item is the recorded outcome of one work item.
type Item struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	ExitCode   int      `json:"exit_code"`
	Archives   []string `json:"archives,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// ShardReport is the summary a job writes when its shard is done.
type ShardReport struct {
	RunID      string    `json:"run_id"`
	Shard      int       `json:"shard"`
	WorkList   string    `json:"work_list"`
	Host       string    `json:"host,omitempty"`
	Workers    int       `json:"workers"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	Summary    Summary   `json:"summary"`
	Items      []Item    `json:"items"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewShardReport builds a report from pool results. Items keep work-list
// order; the summary is derived from them.
func NewShardReport(runID string, shard int, workList string, results []fetch.Result) *ShardReport {
	host, _ := os.Hostname()
	r := &ShardReport{
		RunID:    runID,
		Shard:    shard,
		WorkList: workList,
		Host:     host,
		Items:    make([]Item, 0, len(results)),
	}
	for _, res := range results {
		it := Item{
			ID:         res.ID,
			Status:     string(res.Status),
			ExitCode:   res.ExitCode,
			Archives:   res.Archives,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			it.Error = res.Err.Error()
		}
		r.Items = append(r.Items, it)
	}
	r.Finalize()
	return r
}

// Finalize normalises times to UTC and recomputes the summary from items.
func (r *ShardReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	s := Summary{Total: len(r.Items)}
	for _, it := range r.Items {
		switch fetch.Status(it.Status) {
		case fetch.StatusCompleted:
			s.Completed++
		case fetch.StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	r.Summary = s
}

// Unit records one submitted job script in the run manifest.
type Unit struct {
	Index       int    `json:"index"`
	Shard       string `json:"shard"`
	Script      string `json:"script"`
	JobID       string `json:"job_id,omitempty"`
	SubmitError string `json:"submit_error,omitempty"`
}

// RunManifest describes a master run.
type RunManifest struct {
	RunID      string    `json:"run_id"`
	WorkList   string    `json:"work_list"`
	Items      int       `json:"items"`
	Partitions int       `json:"partitions"`
	OutputDir  string    `json:"output_dir"`
	Workers    int       `json:"workers"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Units      []Unit    `json:"units"`
	CreatedAt  time.Time `json:"created_at"`
}

// OpenBucket opens the report bucket at url. An empty url selects a local
// directory bucket rooted at dir, created if needed.
func OpenBucket(ctx context.Context, url, dir string) (*blob.Bucket, error) {
	if url != "" {
		b, err := blob.OpenBucket(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("report: open bucket %s: %w", url, err)
		}
		return b, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create bucket dir: %w", err)
	}
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("report: open bucket %s: %w", dir, err)
	}
	return b, nil
}

// ManifestKey returns the object key of a run manifest.
func ManifestKey(runID string) string {
	return path.Join(runID, "run.json")
}

// ShardKey returns the object key of a shard report.
func ShardKey(runID string, shard int) string {
	return path.Join(runID, fmt.Sprintf("shard-%06d.json", shard))
}

// WriteManifest stores m, replacing any previous manifest for the run.
func WriteManifest(ctx context.Context, bucket *blob.Bucket, m *RunManifest) error {
	if m.RunID == "" {
		return errors.New("report: run id is required")
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return writeJSON(ctx, bucket, ManifestKey(m.RunID), m)
}

// ReadManifest loads the manifest of runID.
func ReadManifest(ctx context.Context, bucket *blob.Bucket, runID string) (*RunManifest, error) {
	var m RunManifest
	if err := readJSON(ctx, bucket, ManifestKey(runID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteShard stores r, replacing any previous report for the same shard.
func WriteShard(ctx context.Context, bucket *blob.Bucket, r *ShardReport) error {
	if r.RunID == "" {
		return errors.New("report: run id is required")
	}
	r.Finalize()
	return writeJSON(ctx, bucket, ShardKey(r.RunID, r.Shard), r)
}

// ReadShard loads the report of one shard.
func ReadShard(ctx context.Context, bucket *blob.Bucket, runID string, shard int) (*ShardReport, error) {
	var r ShardReport
	if err := readJSON(ctx, bucket, ShardKey(runID, shard), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListShards returns every shard report stored for runID, ordered by shard.
func ListShards(ctx context.Context, bucket *blob.Bucket, runID string) ([]*ShardReport, error) {
	var reports []*ShardReport
	it := bucket.List(&blob.ListOptions{Prefix: runID + "/shard-"})
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("report: list shards: %w", err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		var r ShardReport
		if err := readJSON(ctx, bucket, obj.Key, &r); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Shard < reports[j].Shard })
	return reports, nil
}

func writeJSON(ctx context.Context, bucket *blob.Bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal %s: %w", key, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("report: write %s: %w", key, err)
	}
	return nil
}

func readJSON(ctx context.Context, bucket *blob.Bucket, key string, v any) error {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return fmt.Errorf("report: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("report: unmarshal %s: %w", key, err)
	}
	return nil
}

// IsNotExist reports whether err means the object does not exist.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
