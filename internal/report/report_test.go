package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
)

func openMem(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func sampleResults() []fetch.Result {
	return []fetch.Result{
		{ID: "1000001", Status: fetch.StatusCompleted, ExitCode: 0, Archives: []string{"/out/images/zip/1000001_20208_2_0.zip"}, Duration: 1500 * time.Millisecond},
		{ID: "1000002", Status: fetch.StatusFailed, ExitCode: 3, Err: &fetch.FetchToolError{ID: "1000002", ExitCode: 3}},
		{ID: "1000003", Status: fetch.StatusSkipped, ExitCode: -1},
	}
}

func TestNewShardReport(t *testing.T) {
	r := NewShardReport("run-1", 2, "partition_csv_2.csv", sampleResults())

	want := Summary{Total: 3, Completed: 1, Failed: 1, Skipped: 1}
	if r.Summary != want {
		t.Errorf("summary = %+v, want %+v", r.Summary, want)
	}
	if r.Items[0].DurationMS != 1500 {
		t.Errorf("duration = %d", r.Items[0].DurationMS)
	}
	if r.Items[1].Error == "" {
		t.Error("error message not recorded")
	}
}

func TestShardReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)

	r := NewShardReport("run-1", 0, "partition_csv_0.csv", sampleResults())
	r.StartedAt = time.Date(2026, 1, 15, 10, 30, 0, 0, time.FixedZone("BST", 3600))
	if err := WriteShard(ctx, bucket, r); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}

	exists, err := bucket.Exists(ctx, "run-1/shard-000000.json")
	if err != nil || !exists {
		t.Fatalf("report object missing: exists=%v err=%v", exists, err)
	}

	back, err := ReadShard(ctx, bucket, "run-1", 0)
	if err != nil {
		t.Fatalf("ReadShard: %v", err)
	}
	if back.Summary != r.Summary || len(back.Items) != 3 {
		t.Errorf("read back %+v", back)
	}
	if back.StartedAt.Location() != time.UTC {
		t.Errorf("StartedAt not UTC: %v", back.StartedAt)
	}
}

func TestReadShardNotFound(t *testing.T) {
	_, err := ReadShard(context.Background(), openMem(t), "run-1", 9)
	if !IsNotExist(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)

	err := WriteManifest(ctx, bucket, &RunManifest{
		RunID:      "run-1",
		Partitions: 3,
		Units: []Unit{
			{Index: 0, JobID: "101"},
			{Index: 1, JobID: "102"},
			{Index: 2, JobID: "103"},
		},
	})
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	for _, shard := range []int{0, 2} {
		if err := WriteShard(ctx, bucket, NewShardReport("run-1", shard, "", sampleResults())); err != nil {
			t.Fatalf("WriteShard %d: %v", shard, err)
		}
	}

	st, err := Status(ctx, bucket, "run-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Shards) != 3 {
		t.Fatalf("shards = %d, want 3", len(st.Shards))
	}
	if len(st.Missing) != 1 || st.Missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", st.Missing)
	}
	if st.Complete() {
		t.Error("run should not be complete")
	}
	if st.Shards[2].JobID != "103" || !st.Shards[2].Reported {
		t.Errorf("shard 2 = %+v", st.Shards[2])
	}
	want := Summary{Total: 6, Completed: 2, Failed: 2, Skipped: 2}
	if st.Totals != want {
		t.Errorf("totals = %+v, want %+v", st.Totals, want)
	}
}

func TestStatusWithoutManifest(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)
	WriteShard(ctx, bucket, NewShardReport("adhoc", 1, "", sampleResults()))

	st, err := Status(ctx, bucket, "adhoc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Manifest != nil {
		t.Error("expected nil manifest")
	}
	if len(st.Shards) != 2 || len(st.Missing) != 1 {
		t.Errorf("shards = %d, missing = %v", len(st.Shards), st.Missing)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	_, err := Status(context.Background(), openMem(t), "nope")
	if !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)
	WriteManifest(ctx, bucket, &RunManifest{RunID: "run-1", Partitions: 1})
	WriteShard(ctx, bucket, NewShardReport("run-1", 0, "", sampleResults()))
	WriteShard(ctx, bucket, NewShardReport("run-2", 0, "", sampleResults()))

	n, err := Delete(ctx, bucket, "run-1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d objects, want 2", n)
	}
	if _, err := Status(ctx, bucket, "run-1"); !errors.Is(err, ErrNoRun) {
		t.Errorf("run-1 still present: %v", err)
	}
	if _, err := ReadShard(ctx, bucket, "run-2", 0); err != nil {
		t.Errorf("run-2 affected: %v", err)
	}

	if _, err := Delete(ctx, bucket, "run-1"); !errors.Is(err, ErrNoRun) {
		t.Errorf("second delete: expected ErrNoRun, got %v", err)
	}
}

func TestOpenBucketDefaultsToDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "reports")

	bucket, err := OpenBucket(ctx, "", dir)
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	defer bucket.Close()

	if err := WriteShard(ctx, bucket, NewShardReport("run-1", 0, "", nil)); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1", "shard-000000.json")); err != nil {
		t.Errorf("report not written to directory: %v", err)
	}
}
