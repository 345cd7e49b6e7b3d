package chunk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/ferrors"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0664); err != nil {
		t.Fatalf("writing %s: %s", path, err)
	}
}

func TestReassembleSingle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bundle.zip"), "archive contents")

	merged, err := Reassemble(dir, deposit.Single)
	if err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
	if filepath.Base(merged) != MergedName {
		t.Errorf("got %s, expected %s", merged, MergedName)
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatalf("reading merged file: %s", err)
	}
	if string(data) != "archive contents" {
		t.Errorf("got %q, expected %q", data, "archive contents")
	}
}

func TestReassembleSingleWrongCount(t *testing.T) {
	var table = []struct {
		name  string
		files []string
	}{
		{"none", nil},
		{"two", []string{"a.zip", "b.zip"}},
	}
	for _, test := range table {
		dir := t.TempDir()
		for _, f := range test.files {
			writeFile(t, filepath.Join(dir, f), "x")
		}
		_, err := Reassemble(dir, deposit.Single)
		if err == nil {
			t.Errorf("%s: got nil, expected error", test.name)
			continue
		}
		if !ferrors.IsFailed(err) {
			t.Errorf("%s: got %s, expected a Failed error", test.name, err)
		}
	}
}

func TestReassembleChunked(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "part.1"), "hello ")
	writeFile(t, filepath.Join(dir, "part.2"), "world")

	merged, err := Reassemble(dir, deposit.Chunked)
	if err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatalf("reading merged file: %s", err)
	}
	if string(data) != "hello world" {
		t.Errorf("got %q, expected %q", data, "hello world")
	}
	if _, err := os.Stat(filepath.Join(dir, "part.1")); !os.IsNotExist(err) {
		t.Errorf("expected part.1 to be removed after merge")
	}
}

func TestReassembleChunkedErrors(t *testing.T) {
	var table = []struct {
		name  string
		files []string
	}{
		{"empty", nil},
		{"no-extension", []string{"part"}},
		{"non-numeric", []string{"part.a"}},
		{"negative", []string{"part.-1"}},
	}
	for _, test := range table {
		dir := t.TempDir()
		for _, f := range test.files {
			writeFile(t, filepath.Join(dir, f), "x")
		}
		_, err := Reassemble(dir, deposit.Chunked)
		if err == nil {
			t.Errorf("%s: got nil, expected error", test.name)
			continue
		}
		if !ferrors.IsInvalid(err) {
			t.Errorf("%s: got %s, expected an Invalid error", test.name, err)
		}
	}
}

// TestReassembleChunkedGapsAreNotChecked documents the boundary behavior
// spec.md §8 requires: a missing sequence number does not fail the
// reassembly, it just leaves a gap in the concatenated bytes. Only the sort
// order is guaranteed.
func TestReassembleChunkedGapsAreNotChecked(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "part.1"), "hello ")
	writeFile(t, filepath.Join(dir, "part.3"), "world")

	merged, err := Reassemble(dir, deposit.Chunked)
	if err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatalf("reading merged file: %s", err)
	}
	if string(data) != "hello world" {
		t.Errorf("got %q, expected %q", data, "hello world")
	}
}

// TestReassembleChunkedStartsAtZero documents that a 0-based sequence
// number is a valid non-negative integer suffix, per spec.md §4.2.
func TestReassembleChunkedStartsAtZero(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "part.0"), "hello ")
	writeFile(t, filepath.Join(dir, "part.1"), "world")

	merged, err := Reassemble(dir, deposit.Chunked)
	if err != nil {
		t.Fatalf("got %s, expected nil", err)
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatalf("reading merged file: %s", err)
	}
	if string(data) != "hello world" {
		t.Errorf("got %q, expected %q", data, "hello world")
	}
}
