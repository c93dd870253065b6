package pool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
	"github.com/lisurui6/ukbb-batch-downloader/internal/progress"
)

// Options configures the worker pool.
type Options struct {
	// Workers is the number of concurrent fetches. 0 runs serially.
	Workers int

	// Progress is an optional progress reporter. Run creates a private one
	// when nil so counting is always on.
	Progress *progress.Reporter

	// Logger receives dispatch diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Summary counts results by status.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
}

// Summarize counts results by status.
func Summarize(results []fetch.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case fetch.StatusCompleted:
			s.Completed++
		case fetch.StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	return s
}

// Run fetches every identifier and returns one result per identifier, in
// input order. It returns only after every dispatched fetch has finished.
func Run(ctx context.Context, ids []string, f fetch.Fetcher, opts Options) []fetch.Result {
	if opts.Progress == nil {
		opts.Progress = progress.NewReporter(progress.Options{Total: len(ids), Workers: opts.Workers})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	results := make([]fetch.Result, len(ids))
	for i, id := range ids {
		results[i] = fetch.Result{ID: id, Status: fetch.StatusSkipped, ExitCode: -1}
	}

	if opts.Workers <= 0 {
		runSerial(ctx, ids, f, opts, results)
	} else {
		runParallel(ctx, ids, f, opts, results)
	}

	if ctx.Err() != nil {
		s := Summarize(results)
		opts.Logger.Warn("run cancelled, remaining items not dispatched", "skipped", s.Skipped)
	}
	return results
}

func runSerial(ctx context.Context, ids []string, f fetch.Fetcher, opts Options, results []fetch.Result) {
	for i, id := range ids {
		if ctx.Err() != nil {
			return
		}
		results[i] = runOne(ctx, f, id, opts.Progress)
	}
}

func runParallel(ctx context.Context, ids []string, f fetch.Fetcher, opts Options, results []fetch.Result) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	// Start workers
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// The feeder may still hand over one item after cancellation.
				if ctx.Err() != nil {
					continue
				}
				// Each index is received by exactly one worker, so slots never
				// share writers.
				results[idx] = runOne(ctx, f, ids[idx], opts.Progress)
			}
		}()
	}

	// Feed jobs in work-list order until done or cancelled
	func() {
		defer close(jobs)
		for i := range ids {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
}

func runOne(ctx context.Context, f fetch.Fetcher, id string, reporter *progress.Reporter) fetch.Result {
	reporter.ItemStarted()
	r := f.Fetch(ctx, id)
	if r.Status == fetch.StatusCompleted {
		reporter.ItemCompleted()
	} else {
		r.Status = fetch.StatusFailed
		reporter.ItemFailed()
	}
	return r
}
