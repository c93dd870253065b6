package submit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
	"github.com/lisurui6/ukbb-batch-downloader/internal/testutils"
)

const sbatchHeader = `#!/bin/bash
#SBATCH --job-name=ukbb-download
#SBATCH --time=48:00:00`

func writeShards(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "partition_csv_"+string(rune('0'+i))+".csv")
		os.WriteFile(paths[i], []byte("eid\n"), 0o644)
	}
	return paths
}

func TestGenerateOneUnitPerShard(t *testing.T) {
	dir := t.TempDir()
	shards := writeShards(t, dir, 3)
	g := &Generator{
		JobCommand:    "/opt/batchdl/bin/batchdl",
		ScriptDir:     filepath.Join(dir, "jobs"),
		RunID:         "run-1",
		KeyName:       "ukbb.key",
		FetchToolName: "ukbfetch",
	}

	units, err := g.Generate(sbatchHeader, "/data/in", shards, "/data/out", 4)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(units) != len(shards) {
		t.Fatalf("got %d units, want %d", len(units), len(shards))
	}

	seen := make(map[string]bool)
	for i, u := range units {
		if u.Index != i {
			t.Errorf("unit %d has index %d", i, u.Index)
		}
		if filepath.Base(u.Path) != ScriptName(i) {
			t.Errorf("unit %d path = %s", i, u.Path)
		}
		if seen[u.Shard] {
			t.Errorf("shard %s referenced twice", u.Shard)
		}
		seen[u.Shard] = true
		if _, err := os.Stat(u.Shard); err != nil {
			t.Errorf("unit %d references missing shard: %v", i, err)
		}

		data, err := os.ReadFile(u.Path)
		if err != nil {
			t.Fatalf("read unit %d: %v", i, err)
		}
		text := string(data)
		if !strings.HasPrefix(text, sbatchHeader+"\n") {
			t.Errorf("unit %d does not start with the template:\n%s", i, text)
		}
		lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
		cmd := lines[len(lines)-1]
		for _, want := range []string{
			"/opt/batchdl/bin/batchdl job",
			"-work-list " + u.Shard,
			"-key /data/in/key/ukbb.key",
			"-fetch-tool /data/in/utils/ukbfetch",
			"-output-dir /data/out",
			"-workers 4",
			"-run-id run-1",
		} {
			if !strings.Contains(cmd, want) {
				t.Errorf("unit %d command %q missing %q", i, cmd, want)
			}
		}

		fi, _ := os.Stat(u.Path)
		if fi.Mode().Perm()&0o100 == 0 {
			t.Errorf("unit %d is not executable", i)
		}
	}
}

func TestGenerateIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	shards := writeShards(t, dir, 2)
	g := &Generator{JobCommand: "batchdl", ScriptDir: filepath.Join(dir, "jobs"), KeyName: "k", FetchToolName: "f"}

	first, err := g.Generate("#!/bin/bash\n", dir, shards, dir, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := g.Generate("#!/bin/bash\n", dir, shards, dir, 0)
	if err != nil {
		t.Fatalf("Generate again: %v", err)
	}
	for i := range first {
		if first[i].Path != second[i].Path {
			t.Errorf("unit %d path changed: %s vs %s", i, first[i].Path, second[i].Path)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "jobs"))
	if len(entries) != 2 {
		t.Errorf("expected 2 scripts, got %d", len(entries))
	}
}

func TestCommandQuotesArguments(t *testing.T) {
	g := &Generator{JobCommand: "batchdl", KeyName: "ukbb.key", FetchToolName: "ukbfetch"}
	cmd := g.Command(0, "/data/my input", "/data/shard's.csv", "/out", 0)
	if !strings.Contains(cmd, `'/data/my input/key/ukbb.key'`) {
		t.Errorf("key path not quoted: %s", cmd)
	}
	if !strings.Contains(cmd, `'/data/shard'\''s.csv'`) {
		t.Errorf("shard path not quoted: %s", cmd)
	}
}

func TestCommandPassesJobSettings(t *testing.T) {
	g := &Generator{
		JobCommand:    "batchdl",
		KeyName:       "ukbb.key",
		FetchToolName: "ukbfetch",
		ConfigPath:    "/etc/batchdl.yaml",
		Fields:        []fetch.Field{{Code: 20210, Visit: 2}, {Code: 20211, Visit: 2}},
		Progress:      true,
	}
	cmd := g.Command(0, "/data/in", "/data/shard.csv", "/out", 2)

	for _, want := range []string{"-config /etc/batchdl.yaml", "-fields 20210_2_0,20211_2_0", "-progress"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command missing %q: %s", want, cmd)
		}
	}

	plain := (&Generator{JobCommand: "batchdl"}).Command(0, "/in", "/s.csv", "/out", 0)
	for _, flag := range []string{"-config", "-fields", "-progress"} {
		if strings.Contains(plain, flag) {
			t.Errorf("unset %s rendered: %s", flag, plain)
		}
	}
}

func TestLoadTemplateMissing(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "batch_template.txt"))
	if !IsTemplate(err) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestSubmitContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "sbatch.log")
	scheduler := testutils.FakeScheduler(t, dir, logPath, "job_1.sh")

	units := []Unit{
		{Index: 0, Path: filepath.Join(dir, "job_0.sh")},
		{Index: 1, Path: filepath.Join(dir, "job_1.sh")},
		{Index: 2, Path: filepath.Join(dir, "job_2.sh")},
	}

	s := &Submitter{Scheduler: scheduler}
	results := s.Submit(context.Background(), units)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[0].JobID != "1" {
		t.Errorf("unit 0: job=%q err=%v", results[0].JobID, results[0].Err)
	}
	var se *SubmissionError
	if !errors.As(results[1].Err, &se) {
		t.Fatalf("unit 1: expected SubmissionError, got %v", results[1].Err)
	}
	if se.ExitCode != 1 {
		t.Errorf("unit 1 exit code = %d, want 1", se.ExitCode)
	}
	if results[2].Err != nil || results[2].JobID != "3" {
		t.Errorf("unit 2: job=%q err=%v", results[2].JobID, results[2].Err)
	}

	data, _ := os.ReadFile(logPath)
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Errorf("scheduler invoked %d times, want 3", got)
	}
	if len(Failed(results)) != 1 {
		t.Errorf("Failed = %d, want 1", len(Failed(results)))
	}
}

func TestSubmitSchedulerNotFound(t *testing.T) {
	s := &Submitter{Scheduler: filepath.Join(t.TempDir(), "no-sbatch")}
	results := s.Submit(context.Background(), []Unit{{Path: "job_0.sh"}})

	var se *SubmissionError
	if !errors.As(results[0].Err, &se) {
		t.Fatalf("expected SubmissionError, got %v", results[0].Err)
	}
	if se.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", se.ExitCode)
	}
}
