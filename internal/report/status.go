package report

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// ShardStatus is the state of one shard within a run.
type ShardStatus struct {
	Index    int
	Reported bool
	Summary  Summary
	JobID    string
}

// RunStatus combines a run manifest with the shard reports written so far.
type RunStatus struct {
	RunID    string
	Manifest *RunManifest // nil if the master wrote none
	Shards   []ShardStatus
	Missing  []int   // Shards with no report yet
	Totals   Summary // Over reported shards only
}

// Complete reports whether every shard has reported.
func (s *RunStatus) Complete() bool {
	return len(s.Missing) == 0 && len(s.Shards) > 0
}

// Status reads the manifest and all shard reports of runID.
//
// Returns an error if:
//   - Neither a manifest nor any shard report exists (wraps ErrNoRun)
//   - A stored document is malformed (encoding/json error)
//   - The bucket cannot be read (network/permission error)
//
// Shards without a report are listed in Missing, not returned as errors.
func Status(ctx context.Context, bucket *blob.Bucket, runID string) (*RunStatus, error) {
	manifest, err := ReadManifest(ctx, bucket, runID)
	if err != nil && !IsNotExist(err) {
		return nil, err
	}

	reports, err := ListShards(ctx, bucket, runID)
	if err != nil {
		return nil, err
	}
	if manifest == nil && len(reports) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRun, runID)
	}

	byShard := make(map[int]*ShardReport, len(reports))
	maxShard := -1
	for _, r := range reports {
		byShard[r.Shard] = r
		if r.Shard > maxShard {
			maxShard = r.Shard
		}
	}

	n := maxShard + 1
	jobIDs := make(map[int]string)
	if manifest != nil {
		if manifest.Partitions > n {
			n = manifest.Partitions
		}
		for _, u := range manifest.Units {
			jobIDs[u.Index] = u.JobID
		}
	}

	st := &RunStatus{RunID: runID, Manifest: manifest, Shards: make([]ShardStatus, n)}
	for i := 0; i < n; i++ {
		ss := ShardStatus{Index: i, JobID: jobIDs[i]}
		if r, ok := byShard[i]; ok {
			ss.Reported = true
			ss.Summary = r.Summary
			st.Totals.Add(r.Summary)
		} else {
			st.Missing = append(st.Missing, i)
		}
		st.Shards[i] = ss
	}
	return st, nil
}

// Delete removes the manifest and every shard report of runID.
//
// Returns an error if:
//   - Nothing is stored for runID (wraps ErrNoRun)
//   - An object cannot be deleted (permission denied, network error)
func Delete(ctx context.Context, bucket *blob.Bucket, runID string) (int, error) {
	var keys []string
	it := bucket.List(&blob.ListOptions{Prefix: runID + "/"})
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("report: list %s: %w", runID, err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoRun, runID)
	}

	for _, k := range keys {
		if err := bucket.Delete(ctx, k); err != nil && !IsNotExist(err) {
			return 0, fmt.Errorf("report: delete %s: %w", k, err)
		}
	}
	return len(keys), nil
}
