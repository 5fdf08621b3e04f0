package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// baseTime is the modification time of the oldest fixture file.
var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	name    string
	content string
	age     time.Duration // subtracted from baseTime+24h
}

// writeFixtures creates files in a fresh temp dir and returns the dir.
func writeFixtures(t *testing.T, files ...fixture) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, []byte(f.content), 0o644); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
		mt := baseTime.Add(24 * time.Hour).Add(-f.age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatalf("chtimes %s: %v", f.name, err)
		}
	}
	return dir
}

// standardFixtures: two geometry files plus files that must be ignored.
func standardFixtures(t *testing.T) string {
	t.Helper()
	dir := writeFixtures(t,
		fixture{name: "moss.g", content: "moss geometry", age: 2 * time.Hour},
		fixture{name: "havoc.g", content: "havoc geometry, a bit longer", age: time.Hour},
		fixture{name: "notes.txt", content: "not geometry"},
		fixture{name: ".hidden.g", content: "hidden"},
	)
	if err := os.Mkdir(filepath.Join(dir, "sub.g"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}
