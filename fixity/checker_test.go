package fixity

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndlib/sworddeposit/util"
)

func writeValidBag(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0775); err != nil {
		t.Fatal(err)
	}
	payload := []byte("hello world")
	if err := os.WriteFile(filepath.Join(dir, "data", "f.txt"), payload, 0664); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bagit.txt"), []byte("BagIt-Version: 0.97\n"), 0664); err != nil {
		t.Fatal(err)
	}
	sum := hex.EncodeToString(md5Sum(payload))
	manifest := sum + "  data/f.txt\n"
	if err := os.WriteFile(filepath.Join(dir, "manifest-md5.txt"), []byte(manifest), 0664); err != nil {
		t.Fatal(err)
	}
}

func md5Sum(b []byte) []byte {
	h := md5.New()
	h.Write(b)
	return h.Sum(nil)
}

func TestCheckerRecordsOKForValidBag(t *testing.T) {
	root := t.TempDir()
	depositDir := filepath.Join(root, "dep1")
	bagDir := filepath.Join(depositDir, "bag")
	writeValidBag(t, bagDir)

	ledger, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %s", err)
	}
	defer ledger.Close()

	c := &Checker{
		Ledger:       ledger,
		DepositsRoot: func(id string) string { return filepath.Join(root, id) },
		rate:         util.NewRateCounter(1 << 30),
		gate:         util.NewGate(1),
	}
	defer c.rate.Stop()

	if err := ledger.ScheduleCheck("dep1", time.Now()); err != nil {
		t.Fatalf("ScheduleCheck: %s", err)
	}
	c.checkOne("dep1")

	hist, err := ledger.History("dep1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("History: got %+v, err %v", hist, err)
	}
	if hist[0].Status != OK {
		t.Errorf("Status: got %s, want %s (notes: %s)", hist[0].Status, OK, hist[0].Notes)
	}
}

// TestCheckerFindsBagNestedUnderDepositsRoot exercises the real layout
// promote.Promote produces: the bag sits one level below DepositsRoot,
// next to a deposit.properties record, not directly under it.
func TestCheckerFindsBagNestedUnderDepositsRoot(t *testing.T) {
	root := t.TempDir()
	depositDir := filepath.Join(root, "dep4")
	bagDir := filepath.Join(depositDir, "bag")
	writeValidBag(t, bagDir)
	if err := os.WriteFile(filepath.Join(depositDir, "deposit.properties"), []byte("state=SUBMITTED\n"), 0664); err != nil {
		t.Fatal(err)
	}

	ledger, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %s", err)
	}
	defer ledger.Close()

	c := &Checker{
		Ledger:       ledger,
		DepositsRoot: func(id string) string { return filepath.Join(root, id) },
		rate:         util.NewRateCounter(1 << 30),
		gate:         util.NewGate(1),
	}
	defer c.rate.Stop()

	if err := ledger.ScheduleCheck("dep4", time.Now()); err != nil {
		t.Fatalf("ScheduleCheck: %s", err)
	}
	c.checkOne("dep4")

	hist, err := ledger.History("dep4")
	if err != nil || len(hist) != 1 {
		t.Fatalf("History: got %+v, err %v", hist, err)
	}
	if hist[0].Status != OK {
		t.Errorf("Status: got %s, want %s (notes: %s)", hist[0].Status, OK, hist[0].Notes)
	}
}

func TestCheckerRecordsErrorForInvalidBag(t *testing.T) {
	root := t.TempDir()
	depositDir := filepath.Join(root, "dep2")
	bagDir := filepath.Join(depositDir, "bag")
	if err := os.MkdirAll(bagDir, 0775); err != nil {
		t.Fatal(err)
	}
	// no bagit.txt, no manifest: an invalid bag.

	ledger, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %s", err)
	}
	defer ledger.Close()

	c := &Checker{
		Ledger:       ledger,
		DepositsRoot: func(id string) string { return filepath.Join(root, id) },
		rate:         util.NewRateCounter(1 << 30),
		gate:         util.NewGate(1),
	}
	defer c.rate.Stop()

	if err := ledger.ScheduleCheck("dep2", time.Now()); err != nil {
		t.Fatalf("ScheduleCheck: %s", err)
	}
	c.checkOne("dep2")

	hist, err := ledger.History("dep2")
	if err != nil || len(hist) != 1 {
		t.Fatalf("History: got %+v, err %v", hist, err)
	}
	if hist[0].Status != Error {
		t.Errorf("Status: got %s, want %s", hist[0].Status, Error)
	}
}

func TestScheduleNext(t *testing.T) {
	ledger, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %s", err)
	}
	defer ledger.Close()

	before := time.Now()
	if err := ScheduleNext(ledger, "dep3"); err != nil {
		t.Fatalf("ScheduleNext: %s", err)
	}
	if id := ledger.NextDue(before.Add(minRecheckInterval * 2)); id != "dep3" {
		t.Errorf("NextDue: got %q, want dep3", id)
	}
	if id := ledger.NextDue(before); id != "" {
		t.Errorf("NextDue immediately: got %q, want \"\" (first check is deferred minRecheckInterval out)", id)
	}
}
