package fixity

import (
	"log"
	"time"

	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/sworddeposit/bagit"
	"github.com/ndlib/sworddeposit/util"
)

// minRecheckInterval mirrors server/fixity.go's minDurationChecksum: do
// not re-validate the same deposit more often than this, regardless of
// how quickly an operator re-schedules it.
const minRecheckInterval = 180 * 24 * time.Hour

// Checker runs the background loop that drains due checks from a Ledger
// and re-validates the corresponding bag at storageDir, rate-limited the
// same way the teacher's fixity() goroutine throttles blob checksumming:
// a util.RateCounter paces how many bytes per second the walk may read,
// and a util.Gate bounds how many checks run concurrently.
type Checker struct {
	Ledger       Ledger
	DepositsRoot func(depositID string) string // storageDir for a deposit, e.g. depositprops.Store.StorageDir

	rate *util.RateCounter
	gate util.Gate
	stop chan struct{}
}

// NewChecker returns a Checker that re-validates bags at no more than
// rateBytesPerSec bytes per second, running at most concurrency checks at
// once. A rate of 0 means the caller should not call Start — the
// background loop is only meaningful when fixity checking is enabled
// (config.Startup.FixityRateBytesPerSec > 0).
func NewChecker(ledger Ledger, depositsRoot func(string) string, rateBytesPerSec int64, concurrency int) *Checker {
	return &Checker{
		Ledger:       ledger,
		DepositsRoot: depositsRoot,
		rate:         util.NewRateCounter(float64(rateBytesPerSec)),
		gate:         util.NewGate(concurrency),
		stop:         make(chan struct{}),
	}
}

// Start runs the poll loop in a background goroutine until Stop is
// called. It is the direct descendant of server/fixity.go's fixity(): a
// polling loop pulling deposit ids instead of an unbounded channel fed by
// a separate itemlist goroutine, since a ledger's NextDue query already
// does the filtering that the teacher's itemlist/OldestChecksum pair did.
func (c *Checker) Start() {
	go c.run()
}

// Stop halts the background loop and its rate counter. Not resumable.
func (c *Checker) Stop() {
	close(c.stop)
	c.rate.Stop()
}

func (c *Checker) run() {
	const pollInterval = time.Minute
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runDue()
		case <-c.stop:
			return
		}
	}
}

// runDue drains every check currently due, one at a time per gate slot.
func (c *Checker) runDue() {
	for {
		id := c.Ledger.NextDue(time.Now())
		if id == "" {
			return
		}
		c.gate.Enter()
		go func(depositID string) {
			defer c.gate.Leave()
			c.checkOne(depositID)
		}(id)
	}
}

func (c *Checker) checkOne(depositID string) {
	root := c.DepositsRoot(depositID)

	bagDir, err := bagit.FindDir(root)
	if err == nil {
		<-c.rate.OK()
		err = bagit.VerifyRated(bagDir, c.rate.Wrap)
	}

	status := OK
	notes := ""
	if err != nil {
		status = Error
		notes = err.Error()
		if _, ok := err.(bagit.BagError); !ok {
			raven.CaptureError(err, map[string]string{"depositId": depositID})
		}
	}
	if recordErr := c.Ledger.RecordResult(depositID, status, notes); recordErr != nil {
		log.Printf("fixity: recording result for %s: %s", depositID, recordErr)
	}
}

// ScheduleNext asks the ledger to re-check depositID no sooner than
// minRecheckInterval from now. Called by the finalization orchestrator
// immediately after a successful promotion (spec.md §4.7 step 7), so
// every SUBMITTED deposit eventually gets its first fixity check.
func ScheduleNext(ledger Ledger, depositID string) error {
	return ledger.ScheduleCheck(depositID, time.Now().Add(minRecheckInterval))
}
