package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	data := `[
		{"id": "t1", "commandLine": "echo one"},
		{"id": "t2", "commandLine": "echo two", "dependsOn": ["t1"],
		 "environment": [{"name": "MODE", "value": "fast"}]}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	specs, err := readTaskFile(path)
	if err != nil {
		t.Fatalf("readTaskFile() error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(specs))
	}
	if specs[1].ID != "t2" || len(specs[1].DependsOn) != 1 || specs[1].Environment[0].Value != "fast" {
		t.Errorf("unexpected task %+v", specs[1])
	}
}

func TestReadTaskFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"id": "t1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.json"), bad} {
		if _, err := readTaskFile(path); err == nil {
			t.Errorf("expected error for %s", path)
		}
	}
}
