// Package progress tracks and displays work-item progress for a job.
//
// The Reporter keeps atomic counters that the worker pool updates from many
// goroutines. Each finished item, successful or not, advances the done
// counter exactly once. When started, the Reporter also prints a status line
// to stderr at a fixed interval.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Total:   len(ids),
//	    Workers: 8,
//	    Label:   "partition_csv_3.csv",
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ItemStarted()
//	reporter.ItemCompleted() // or reporter.ItemFailed()
//
// # Output Format
//
//	[batchdl] Downloading: partition_csv_3.csv
//	[batchdl] Items: 2000 | Workers: 8
//	[batchdl] Progress: 45.2% | 904/2000 | 12 failed | Rate: 1.3/s | ETA: 14m 2s
package progress
