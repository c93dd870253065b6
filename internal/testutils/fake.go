// Package testutils provides shared test infrastructure: fake external
// executables for unit tests and, behind the integration build tag, a Minio
// container for the report store.
package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// WriteScript writes an executable shell script named name into dir and
// returns its path. body is placed after the shebang line.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// FakeFetchTool writes a stand-in for ukbfetch. It parses -b<batch> and
// -a<key>, fails with exitCode when the key file does not exist, and for
// every manifest line "<id> <field>_<visit>_<instance>" creates
// <id>_<field>_<visit>_<instance>.zip in its working directory. Identifiers
// listed in failIDs make it exit with exitCode after writing nothing.
func FakeFetchTool(t *testing.T, dir string, exitCode int, failIDs ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`batch=""; key=""
for arg in "$@"; do
  case "$arg" in
    -b*) batch="${arg#-b}" ;;
    -a*) key="${arg#-a}" ;;
  esac
done
[ -f "$key" ] || { echo "key not found: $key" >&2; exit 3; }
[ -f "$batch" ] || { echo "batch not found: $batch" >&2; exit 3; }
`)
	for _, id := range failIDs {
		fmt.Fprintf(&b, "grep -q '^%s ' \"$batch\" && { echo 'fetch refused for %s' >&2; exit %d; }\n", id, id, exitCode)
	}
	b.WriteString(`while read -r eid req; do
  [ -n "$eid" ] && echo "zip-$eid-$req" > "${eid}_${req}.zip"
done < "$batch"
exit 0`)
	return WriteScript(t, dir, "ukbfetch", b.String())
}

// FakeScheduler writes a stand-in for sbatch that appends every script path
// it receives to logPath and reports a job id. Scripts whose path contains
// reject are refused with exit code 1.
func FakeScheduler(t *testing.T, dir, logPath, reject string) string {
	t.Helper()
	body := fmt.Sprintf(`script="$1"
echo "$script" >> '%s'
case "$script" in
  *%s*) echo "sbatch: error: Batch job submission failed" >&2; exit 1 ;;
esac
echo "Submitted batch job $(wc -l < '%s' | tr -d ' ')"`, logPath, nonEmpty(reject), logPath)
	return WriteScript(t, dir, "sbatch", body)
}

func nonEmpty(s string) string {
	if s == "" {
		return "__no_rejects__"
	}
	return s
}
