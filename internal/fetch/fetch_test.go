package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lisurui6/ukbb-batch-downloader/internal/testutils"
)

type env struct {
	dir  string
	out  string
	key  string
	tool string
}

func newEnv(t *testing.T, tool func(dir string) string) env {
	t.Helper()
	dir := t.TempDir()
	key := filepath.Join(dir, "ukbb.key")
	if err := os.WriteFile(key, []byte("app-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return env{dir: dir, out: filepath.Join(dir, "out"), key: key, tool: tool(dir)}
}

func (e env) task(t *testing.T, timeout time.Duration) *Task {
	t.Helper()
	task, err := NewTask(Options{Tool: e.tool, Key: e.key, OutputDir: e.out, Timeout: timeout})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task
}

func TestRenderManifest(t *testing.T) {
	got := RenderManifest("1000001", DefaultFields)
	want := "1000001 20208_2_0\n1000001 20209_2_0\n"
	if got != want {
		t.Errorf("RenderManifest = %q, want %q", got, want)
	}
}

func TestFetchMovesArchives(t *testing.T) {
	e := newEnv(t, func(dir string) string { return testutils.FakeFetchTool(t, dir, 1) })
	task := e.task(t, 0)

	res := task.Fetch(context.Background(), "1000001")
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if len(res.Archives) != 2 {
		t.Fatalf("archives = %v", res.Archives)
	}

	zip := filepath.Join(e.out, "images", "zip", "1000001_20208_2_0.zip")
	data, err := os.ReadFile(zip)
	if err != nil {
		t.Fatalf("archive not in zip dir: %v", err)
	}
	if !strings.Contains(string(data), "1000001-20208_2_0") {
		t.Errorf("archive content = %q", data)
	}

	left, _ := filepath.Glob(filepath.Join(e.out, StagingDir, "1000001", "1000001_*.zip"))
	if len(left) != 0 {
		t.Errorf("archives left in staging: %v", left)
	}
	if _, err := os.Stat(filepath.Join(e.out, StagingDir, "1000001")); !os.IsNotExist(err) {
		t.Error("staging dir not removed")
	}
	if _, err := os.Stat(filepath.Join(e.out, BatchDir, ManifestName("1000001"))); !os.IsNotExist(err) {
		t.Error("batch file still exists after success")
	}
}

func TestFetchToolFailure(t *testing.T) {
	e := newEnv(t, func(dir string) string { return testutils.FakeFetchTool(t, dir, 7, "1000002") })
	task := e.task(t, 0)

	res := task.Fetch(context.Background(), "1000002")
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	var fe *FetchToolError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("expected FetchToolError, got %v", res.Err)
	}
	if fe.ID != "1000002" || fe.ExitCode != 7 {
		t.Errorf("FetchToolError = %+v", fe)
	}
	if !strings.Contains(fe.Stderr, "fetch refused") {
		t.Errorf("stderr not captured: %q", fe.Stderr)
	}
	if res.ExitCode != 7 {
		t.Errorf("result exit code = %d", res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(e.out, BatchDir, ManifestName("1000002"))); !os.IsNotExist(err) {
		t.Error("batch file still exists after tool failure")
	}
}

func TestFetchToolMissing(t *testing.T) {
	e := newEnv(t, func(dir string) string { return filepath.Join(dir, "no-such-tool") })
	res := e.task(t, 0).Fetch(context.Background(), "1000003")

	var fe *FetchToolError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("expected FetchToolError, got %v", res.Err)
	}
	if fe.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", fe.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(e.out, BatchDir, ManifestName("1000003"))); !os.IsNotExist(err) {
		t.Error("batch file still exists after start failure")
	}
}

func TestFetchTimeout(t *testing.T) {
	e := newEnv(t, func(dir string) string { return testutils.WriteScript(t, dir, "slowfetch", "sleep 30") })
	task := e.task(t, 100*time.Millisecond)

	start := time.Now()
	res := task.Fetch(context.Background(), "1000004")
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}

	var fe *FetchToolError
	if !errors.As(res.Err, &fe) || !fe.TimedOut {
		t.Fatalf("expected timed out FetchToolError, got %v", res.Err)
	}
}

func TestFetchIgnoresCallerCancellation(t *testing.T) {
	e := newEnv(t, func(dir string) string {
		return testutils.WriteScript(t, dir, "ukbfetch", `sleep 0.2; touch 1000005_20208_2_0.zip`)
	})
	task := e.task(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := task.Fetch(ctx, "1000005")
	if res.Status != StatusCompleted {
		t.Fatalf("in-flight fetch should finish, got %s: %v", res.Status, res.Err)
	}
	if len(res.Archives) != 1 {
		t.Errorf("archives = %v", res.Archives)
	}
}

func TestFetchInvalidID(t *testing.T) {
	e := newEnv(t, func(dir string) string { return testutils.FakeFetchTool(t, dir, 1) })
	task := e.task(t, 0)

	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		res := task.Fetch(context.Background(), id)
		if !errors.Is(res.Err, ErrInvalidID) {
			t.Errorf("id %q: expected ErrInvalidID, got %v", id, res.Err)
		}
	}
}

func TestFetchOnlyCollectsOwnArchives(t *testing.T) {
	e := newEnv(t, func(dir string) string {
		return testutils.WriteScript(t, dir, "ukbfetch", `touch 1000006_20208_2_0.zip 1000007_20208_2_0.zip`)
	})
	task := e.task(t, 0)

	res := task.Fetch(context.Background(), "1000006")
	if len(res.Archives) != 1 || filepath.Base(res.Archives[0]) != "1000006_20208_2_0.zip" {
		t.Fatalf("archives = %v", res.Archives)
	}
	if _, err := os.Stat(filepath.Join(e.out, "images", "zip", "1000007_20208_2_0.zip")); !os.IsNotExist(err) {
		t.Error("archive of another identifier was collected")
	}
	// The stray archive keeps the staging dir alive.
	if _, err := os.Stat(filepath.Join(e.out, StagingDir, "1000006", "1000007_20208_2_0.zip")); err != nil {
		t.Errorf("stray archive should remain in staging: %v", err)
	}
}

func TestNewTaskValidation(t *testing.T) {
	tests := []Options{
		{Key: "k", OutputDir: "o"},
		{Tool: "t", OutputDir: "o"},
		{Tool: "t", Key: "k"},
	}
	for i, opts := range tests {
		if _, err := NewTask(opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
