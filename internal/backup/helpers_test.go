package backup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const testSummaryLine = `{"message_type":"summary","files_new":3,"files_changed":1,"files_unmodified":6,"dirs_new":1,"dirs_changed":0,"dirs_unmodified":2,"data_blobs":4,"tree_blobs":2,"data_added":2048,"data_added_packed":1024,"total_files_processed":10,"total_bytes_processed":4096,"total_duration":1.25,"snapshot_id":"abc123"}`

// writeScript writes an executable shell script into the test's temp dir and
// returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// fakeRestic returns a script that prints stdout, writes stderr and exits
// with exitCode.
func fakeRestic(t *testing.T, stdout, stderr string, exitCode int) string {
	t.Helper()
	var b strings.Builder
	if stdout != "" {
		b.WriteString("cat <<'EOF'\n" + stdout + "\nEOF\n")
	}
	if stderr != "" {
		b.WriteString("cat >&2 <<'EOF'\n" + stderr + "\nEOF\n")
	}
	b.WriteString("exit " + strconv.Itoa(exitCode))
	return writeScript(t, "restic", b.String())
}

func testConfig(binary string) Config {
	return Config{
		Repository:   "/srv/restic-repo",
		BinaryPath:   binary,
		PasswordFile: "/home/user/.restic-pass",
		Tags:         []string{"auto", "work"},
	}
}
