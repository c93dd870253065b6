package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 2*time.Minute + 5*time.Second, "3h 2m 5s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.input); got != tt.expected {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterItemTracking(t *testing.T) {
	reporter := NewReporter(Options{Total: 4, Workers: 2})

	// Counters work without starting the display loop.
	reporter.ItemStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.ItemCompleted()
	reporter.ItemStarted()
	reporter.ItemFailed()

	s := reporter.Snapshot()
	if s.Done != 2 || s.Failed != 1 || s.InProgress != 0 {
		t.Errorf("snapshot = %+v", s)
	}
	reporter.Stop()
}

func TestReporterConcurrentCounting(t *testing.T) {
	const total = 500
	reporter := NewReporter(Options{Total: total})

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reporter.ItemStarted()
			if i%3 == 0 {
				reporter.ItemFailed()
			} else {
				reporter.ItemCompleted()
			}
		}(i)
	}
	wg.Wait()

	if reporter.Done() != total {
		t.Errorf("Done = %d, want %d", reporter.Done(), total)
	}
	if got := reporter.Snapshot().Failed; got != 167 {
		t.Errorf("Failed = %d, want 167", got)
	}
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		Total:          2,
		Workers:        2,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
		Label:          "partition_csv_0.csv",
	})

	reporter.Start()
	reporter.ItemStarted()
	reporter.ItemCompleted()
	reporter.ItemStarted()
	reporter.ItemFailed()

	time.Sleep(50 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	text := out.String()
	for _, want := range []string{
		"[batchdl] Downloading: partition_csv_0.csv",
		"[batchdl] Items: 2 | Workers: 2",
		"[batchdl] Finished: 2/2 | 1 completed | 1 failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}
