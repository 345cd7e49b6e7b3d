package finalize

import (
	"archive/zip"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndlib/sworddeposit/chunk"
	"github.com/ndlib/sworddeposit/depositprops"
	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/fixity"
	"github.com/ndlib/sworddeposit/store"
	"github.com/ndlib/sworddeposit/versioning"
)

// fakeLedger is a minimal, in-memory fixity.Ledger for exercising the
// scheduling call Worker.sequence makes after a successful promotion,
// without pulling in a real database backend.
type fakeLedger struct {
	scheduled map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{scheduled: make(map[string]time.Time)}
}

func (f *fakeLedger) ScheduleCheck(depositID string, at time.Time) error {
	f.scheduled[depositID] = at
	return nil
}

func (f *fakeLedger) NextDue(cutoff time.Time) string { return "" }

func (f *fakeLedger) RecordResult(depositID string, status fixity.Status, notes string) error {
	return nil
}

func (f *fakeLedger) History(depositID string) ([]fixity.Result, error) { return nil, nil }

func (f *fakeLedger) Close() error { return nil }

// writeValidBagZip builds a single-file zip archive at dir/part, containing
// a one-directory bag ("bag/") whose manifest-md5.txt matches its one
// payload file, and leaves it as the sole staging part, which is what
// chunk.Reassemble's deposit.Single path requires.
func writeValidBagZip(t *testing.T, dir, partName string) {
	t.Helper()

	payload := []byte("hello deposit")
	sum := md5.Sum(payload)
	manifest := hex.EncodeToString(sum[:]) + "  data/f.txt\n"

	f, err := os.Create(filepath.Join(dir, partName))
	if err != nil {
		t.Fatalf("creating part: %s", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(name string, content []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%s): %s", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("writing %s: %s", name, err)
		}
	}
	write("bag/bagit.txt", []byte("BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n"))
	write("bag/manifest-md5.txt", []byte(manifest))
	write("bag/data/f.txt", payload)
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %s", err)
	}
}

// writeValidBagZipChunked builds the same zip writeValidBagZip does, but
// splits its bytes across two numbered chunk files in dir, so
// chunk.Reassemble concatenates them back into MergedName instead of
// renaming a single part.
func writeValidBagZipChunked(t *testing.T, dir string) {
	t.Helper()

	payload := []byte("hello deposit")
	sum := md5.Sum(payload)
	manifest := hex.EncodeToString(sum[:]) + "  data/f.txt\n"

	var buf zipBuffer
	zw := zip.NewWriter(&buf)
	write := func(name string, content []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%s): %s", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("writing %s: %s", name, err)
		}
	}
	write("bag/bagit.txt", []byte("BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n"))
	write("bag/manifest-md5.txt", []byte(manifest))
	write("bag/data/f.txt", payload)
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %s", err)
	}

	mid := len(buf.b) / 2
	if err := os.WriteFile(filepath.Join(dir, "part.zip.0"), buf.b[:mid], 0664); err != nil {
		t.Fatalf("writing chunk 0: %s", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part.zip.1"), buf.b[mid:], 0664); err != nil {
		t.Fatalf("writing chunk 1: %s", err)
	}
}

type zipBuffer struct{ b []byte }

func (z *zipBuffer) Write(p []byte) (int, error) {
	z.b = append(z.b, p...)
	return len(p), nil
}

// TestSequenceChunkedDeletesMergedArchive covers chunk.Reassemble's chunked
// path: the individual chunk files are removed by chunk.Reassemble itself,
// but the concatenated merged.archive used to survive extraction and get
// promoted alongside the bag. sequence must delete it regardless of which
// mimetype produced it.
func TestSequenceChunkedDeletesMergedArchive(t *testing.T) {
	root := t.TempDir()
	props := depositprops.New(filepath.Join(root, "staging"), filepath.Join(root, "storage"))

	stagingDir := props.StagingDir("dep5")
	storageDir := props.StorageDir("dep5")
	if err := os.MkdirAll(stagingDir, 0775); err != nil {
		t.Fatalf("setting up staging dir: %s", err)
	}
	writeValidBagZipChunked(t, stagingDir)

	worker := &Worker{Props: props, Versioner: versioning.Disabled{}}
	job := Job{ID: "dep5", MimeType: deposit.Chunked}
	if err := worker.sequence(job, stagingDir, storageDir); err != nil {
		t.Fatalf("sequence: %s", err)
	}

	if _, err := os.Stat(filepath.Join(storageDir, "bag", "bagit.txt")); err != nil {
		t.Errorf("expected promoted bag at %s: %s", storageDir, err)
	}
	if _, err := os.Stat(filepath.Join(storageDir, chunk.MergedName)); !os.IsNotExist(err) {
		t.Errorf("expected merged archive to be deleted, stat returned: %v", err)
	}
}

func TestSequencePromotesAndSchedulesFixity(t *testing.T) {
	root := t.TempDir()
	props := depositprops.New(filepath.Join(root, "staging"), filepath.Join(root, "storage"))

	stagingDir := props.StagingDir("dep1")
	storageDir := props.StorageDir("dep1")
	if err := os.MkdirAll(stagingDir, 0775); err != nil {
		t.Fatalf("setting up staging dir: %s", err)
	}
	writeValidBagZip(t, stagingDir, "part.zip")

	ledger := newFakeLedger()
	mirror := store.NewMemory()

	w := &Worker{
		Props:     props,
		Versioner: versioning.Disabled{},
		Ledger:    ledger,
		Mirror:    mirror,
	}

	job := Job{ID: "dep1", MimeType: deposit.Single}
	if err := w.sequence(job, stagingDir, storageDir); err != nil {
		t.Fatalf("sequence: %s", err)
	}

	if _, err := os.Stat(filepath.Join(storageDir, "bag", "bagit.txt")); err != nil {
		t.Errorf("expected promoted bag at %s: %s", storageDir, err)
	}

	if _, err := os.Stat(filepath.Join(storageDir, chunk.MergedName)); !os.IsNotExist(err) {
		t.Errorf("expected merged archive to be deleted, stat returned: %v", err)
	}

	if _, ok := ledger.scheduled["dep1"]; !ok {
		t.Errorf("expected dep1 to be scheduled in the fixity ledger")
	}

	if _, _, err := mirror.Open("dep1"); err != nil {
		t.Errorf("expected a mirror bundle for dep1: %s", err)
	}
}

func TestSequenceRejectsInvalidBag(t *testing.T) {
	root := t.TempDir()
	props := depositprops.New(filepath.Join(root, "staging"), filepath.Join(root, "storage"))

	stagingDir := props.StagingDir("dep2")
	storageDir := props.StorageDir("dep2")
	if err := os.MkdirAll(stagingDir, 0775); err != nil {
		t.Fatalf("setting up staging dir: %s", err)
	}

	f, err := os.Create(filepath.Join(stagingDir, "part.zip"))
	if err != nil {
		t.Fatalf("creating part: %s", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("bag/bagit.txt")
	if err != nil {
		t.Fatalf("zip.Create: %s", err)
	}
	w.Write([]byte("BagIt-Version: 0.97\n"))
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %s", err)
	}
	f.Close()

	worker := &Worker{Props: props, Versioner: versioning.Disabled{}}
	job := Job{ID: "dep2", MimeType: deposit.Single}
	err = worker.sequence(job, stagingDir, storageDir)
	if err == nil {
		t.Fatal("expected an error for a bag with no manifest files")
	}
}
