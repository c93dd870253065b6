package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Total is the number of work items.
	Total int

	// Workers is the number of parallel workers (0 = serial).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 5s
	UpdateInterval time.Duration

	// Label names the work list being processed (for display).
	Label string
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total      int
	Done       int
	Failed     int
	InProgress int
}

// Reporter counts finished items and optionally prints progress.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	done       atomic.Int64
	failed     atomic.Int64
	inProgress atomic.Int64
	startTime  time.Time
	lastUpdate time.Time
	lastDone   int64
	stopCh     chan struct{}
	loopDone   chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 5 * time.Second
	}

	return &Reporter{
		opts:     opts,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start begins printing progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[batchdl] Downloading: %s\n", r.opts.Label)
	fmt.Fprintf(r.opts.Output, "[batchdl] Items: %d | Workers: %d\n", r.opts.Total, r.opts.Workers)

	go r.updateLoop()
}

// Stop stops the display loop and prints the final status. It is safe to
// call more than once and on a Reporter that was never started.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.loopDone
	}
}

// ItemStarted marks an item as in progress.
func (r *Reporter) ItemStarted() {
	r.inProgress.Add(1)
}

// ItemCompleted marks an item as finished successfully.
func (r *Reporter) ItemCompleted() {
	r.done.Add(1)
	r.inProgress.Add(-1)
}

// ItemFailed marks an item as finished with an error. It still counts
// toward Done.
func (r *Reporter) ItemFailed() {
	r.failed.Add(1)
	r.done.Add(1)
	r.inProgress.Add(-1)
}

// Done returns the number of finished items.
func (r *Reporter) Done() int {
	return int(r.done.Load())
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		Total:      r.opts.Total,
		Done:       int(r.done.Load()),
		Failed:     int(r.failed.Load()),
		InProgress: int(r.inProgress.Load()),
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.loopDone)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	s := r.Snapshot()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	rate := float64(int64(s.Done)-r.lastDone) / elapsed
	r.lastUpdate = now
	r.lastDone = int64(s.Done)

	var percent float64
	eta := "calculating..."
	if s.Total > 0 {
		percent = float64(s.Done) / float64(s.Total) * 100
		if rate > 0 {
			remaining := float64(s.Total - s.Done)
			eta = formatDuration(time.Duration(remaining / rate * float64(time.Second)))
		}
	}

	fmt.Fprintf(r.opts.Output, "[batchdl] Progress: %.1f%% | %d/%d | %d failed | %d in-progress | Rate: %.1f/s | ETA: %s\n",
		percent, s.Done, s.Total, s.Failed, s.InProgress, rate, eta)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	duration := time.Since(r.startTime)

	fmt.Fprintf(r.opts.Output, "[batchdl] Finished: %d/%d | %d completed | %d failed\n",
		s.Done, s.Total, s.Done-s.Failed, s.Failed)
	fmt.Fprintf(r.opts.Output, "[batchdl] Total time: %s\n", formatDuration(duration))
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatDuration is exported for use by other packages.
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}
