// Package pool drives the per-item fetch task over a job's work list.
//
// # Usage
//
//	results := pool.Run(ctx, wl.IDs(), task, pool.Options{
//	    Workers:  8,
//	    Progress: reporter,
//	})
//	summary := pool.Summarize(results)
//
// # Scheduling
//
// With Workers == 0 items run one after another in work-list order. With
// Workers > 0 a fixed set of goroutines receives identifiers from a channel
// fed in work-list order; completion order is unspecified. Results are
// always returned in work-list order.
//
// # Graceful Shutdown
//
// When ctx is cancelled (SIGINT/SIGTERM):
//   - Stop dispatching new items
//   - Let in-flight fetches finish their current tool invocation
//   - Return undispatched items with status skipped
package pool
