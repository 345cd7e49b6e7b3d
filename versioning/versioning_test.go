package versioning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDisabled(t *testing.T) {
	var v Versioner = Disabled{}
	dir := t.TempDir()
	if err := v.Init(dir, "test-deposit"); err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
	if err := v.CommitSubmitted(dir, "test-deposit"); err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
}

func TestGitCommitSubmitted(t *testing.T) {
	dir := t.TempDir()

	v := New("Test Depositor", "depositor@example.edu")
	if err := v.Init(dir, "test-deposit"); err != nil {
		t.Fatalf("got %s, expected nil", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "data.txt"), []byte("payload"), 0664); err != nil {
		t.Fatalf("writing fixture file: %s", err)
	}

	if err := v.CommitSubmitted(dir, "test-deposit"); err != nil {
		t.Fatalf("got %s, expected nil", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Errorf("expected a .git directory to exist: %s", err)
	}
}

func TestGitInitIdempotent(t *testing.T) {
	dir := t.TempDir()
	v := New("Test Depositor", "depositor@example.edu")
	if err := v.Init(dir, "test-deposit"); err != nil {
		t.Fatalf("first init: got %s, expected nil", err)
	}
	if err := v.Init(dir, "test-deposit"); err != nil {
		t.Fatalf("second init: got %s, expected nil", err)
	}
}
