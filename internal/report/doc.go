// Package report persists run bookkeeping in a blob bucket: one run manifest
// written by the master when it submits jobs, and one shard report written
// by each job when its worker pool drains. Both are JSON documents, so any
// gocloud.dev/blob driver (file://, s3://, gs://, mem://) can hold them.
//
// # Storage Layout
//
//	{bucket}/{runID}/run.json            (master: shards, scripts, job ids)
//	{bucket}/{runID}/shard-000000.json   (job 0 summary and per-item results)
//	{bucket}/{runID}/shard-000001.json
//
// # Status
//
// [Status] combines the manifest with whatever shard reports exist, so a
// run can be inspected while jobs are still queued: shards without a report
// are listed as missing rather than treated as errors.
//
// # Shard Report Format
//
//	{
//	  "run_id": "3f0c...",
//	  "shard": 0,
//	  "work_list": "/out/temp/csv/partition_csv_0.csv",
//	  "summary": {"total": 3, "completed": 2, "failed": 1, "skipped": 0},
//	  "items": [
//	    {"id": "1000001", "status": "completed", "exit_code": 0, "archives": ["..."]},
//	    ...
//	  ],
//	  "started_at": "2026-01-15T10:30:00Z",
//	  "finished_at": "2026-01-15T11:02:13Z"
//	}
package report
