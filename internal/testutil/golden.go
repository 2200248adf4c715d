// Package testutil provides golden-file helpers for lunatix tests.
package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// update rewrites golden files instead of comparing: go test ./... -update
var update = flag.Bool("update", false, "update golden files")

// GoldenPath returns the path of a golden file under testdata/.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name)
}

// AssertGolden compares got against testdata/<name>. Line endings are
// normalized so checkouts with CRLF conversion still match.
func AssertGolden(t testing.TB, got, name string) {
	t.Helper()

	path := GoldenPath(name)

	if *update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create testdata directory: %v", err)
		}

		if err := os.WriteFile(path, []byte(got), 0o644); err != nil {
			t.Fatalf("update golden file %s: %v", path, err)
		}

		t.Logf("updated golden file: %s", path)

		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("golden file %s does not exist; run with -update to create it", path)
		}

		t.Fatalf("read golden file %s: %v", path, err)
	}

	if normalize(got) != normalize(string(want)) {
		t.Errorf("output mismatch for %s\n\ngot:\n%s\n\nwant:\n%s\n\nrun with -update to refresh golden files", path, got, want)
	}
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
