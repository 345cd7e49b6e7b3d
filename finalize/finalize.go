// Package finalize implements C7, the Finalization Orchestrator: the
// asynchronous worker that drives a deposit from FINALIZING through to one
// of its terminal states.
//
// The worker pool shape — a bounded channel of queued work, a
// sync.WaitGroup tracking in-flight workers, and a cancel channel closed at
// shutdown — is carried over from the teacher repo's RESTServer: its
// txqueue/txwg/txcancel fields in server/routes.go and the
// transactionWorker goroutines that drain txqueue are generalized here into
// a single-consumer Worker that drains a bounded Queue of deposits instead
// of a channel of raw transaction ids.
package finalize

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/getsentry/raven-go"

	"github.com/ndlib/sworddeposit/bagit"
	"github.com/ndlib/sworddeposit/chunk"
	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/depositprops"
	"github.com/ndlib/sworddeposit/extract"
	"github.com/ndlib/sworddeposit/ferrors"
	"github.com/ndlib/sworddeposit/fixity"
	"github.com/ndlib/sworddeposit/promote"
	"github.com/ndlib/sworddeposit/store"
	"github.com/ndlib/sworddeposit/versioning"
)

// Job names one deposit to run through finalization.
type Job struct {
	ID       string
	MimeType deposit.MimeType
}

// Queue is the bounded FIFO of finalization jobs C8 submits into and the
// Worker drains from. Submit blocks when the queue is full, which is the
// pipeline's backpressure mechanism (spec.md §5): an ingress request that
// triggers finalization does not return until there is room in the queue.
type Queue struct {
	ch chan Job
}

// NewQueue returns a Queue with room for capacity pending jobs.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Job, capacity)}
}

// Submit enqueues job, blocking if the queue is full, until ctx is done.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many jobs are currently sitting in the queue,
// waiting for the worker to pick them up.
func (q *Queue) Pending() int {
	return len(q.ch)
}

// Worker pulls jobs off a Queue, one at a time, and runs each through the
// full finalization sequence. A single worker enforces the single-writer
// discipline spec.md §3 invariant 3 requires: only one goroutine ever
// mutates a given deposit's staging or storage directory.
type Worker struct {
	Queue     *Queue
	Props     *depositprops.Store
	Versioner versioning.Versioner

	// Ledger is the C9 fixity ledger a successfully promoted deposit is
	// scheduled into for future re-validation. It is optional: nil
	// disables scheduling, the same way Versioner's Disabled
	// implementation disables C5 without branching at every call site.
	Ledger fixity.Ledger

	// Mirror, if set, receives a zip bundle of each promoted deposit
	// (promote.Mirror) in addition to the filesystem copy at
	// storageDir — an off-site backup for deployments configured with
	// mirror.s3-bucket. Optional: nil skips mirroring entirely.
	Mirror store.Store

	wg     sync.WaitGroup
	cancel chan struct{}
}

// Start runs the worker loop in a background goroutine. Call Stop to drain
// and shut it down.
func (w *Worker) Start() {
	w.cancel = make(chan struct{})
	w.wg.Add(1)
	go w.run()
}

// Stop signals the worker to exit once its current job finishes and waits
// for it to do so. Jobs still sitting in the queue are left unprocessed.
func (w *Worker) Stop() {
	close(w.cancel)
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.Queue.ch:
			w.runOne(job)
		case <-w.cancel:
			return
		}
	}
}

// runOne executes the seven-step finalization sequence for a single
// deposit. It never panics and never propagates an error to the caller:
// every outcome, success or failure, is recorded via Props so that the
// deposit's state is always consistent with what's on disk, and any one
// deposit's failure can never take down the worker loop.
func (w *Worker) runOne(job Job) {
	stagingDir := w.Props.StagingDir(job.ID)
	storageDir := w.Props.StorageDir(job.ID)

	if err := w.sequence(job, stagingDir, storageDir); err != nil {
		state, message := classify(err)
		if state == deposit.Failed {
			raven.CaptureError(err, map[string]string{"depositId": job.ID})
		}
		if setErr := w.Props.Set(job.ID, state, message, true); setErr != nil {
			log.Printf("finalize: deposit %s failed as %s (%s), and recording that failed too: %s", job.ID, state, message, setErr)
		}
		return
	}
}

func (w *Worker) sequence(job Job, stagingDir, storageDir string) error {
	// 1. initialize version control for the deposit before any content
	// changes, so every subsequent mutation is captured in history.
	if err := w.Versioner.Init(stagingDir, job.ID); err != nil {
		return err
	}

	// 2. reassemble uploaded parts into a single archive and extract it,
	// then remove that archive: spec.md §4.2 requires every input,
	// single part or merged chunks alike, to be gone once unpacking
	// succeeds, so it never survives into storageDir or a git commit.
	merged, err := chunk.Reassemble(stagingDir, job.MimeType)
	if err != nil {
		return err
	}
	if err := extract.Unpack(merged, stagingDir); err != nil {
		return err
	}
	if err := os.Remove(merged); err != nil {
		return ferrors.Failed(err, "removing merged archive %s", merged)
	}

	// 3. locate the single extracted bag directory.
	bagDir, err := bagit.FindDir(stagingDir)
	if err != nil {
		return ferrors.Failed(err, "locating bag directory under %s", stagingDir)
	}

	// 4. validate the bag's manifests against its payload. A BagError
	// means the bag itself is malformed (Invalid); anything else means
	// the validator could not even read the directory (Failed).
	if err := bagit.Verify(bagDir); err != nil {
		if bagErr, ok := err.(bagit.BagError); ok {
			return ferrors.Invalidf("%s", bagErr)
		}
		return ferrors.Failed(err, "validating bag at %s", bagDir)
	}

	// 5. record SUBMITTED against the staging copy before promotion, so
	// a crash between here and promotion still leaves a deposit whose
	// deposit.properties says SUBMITTED even though its bytes haven't
	// moved yet.
	if err := w.Props.Set(job.ID, deposit.Submitted, "deposit accepted", true); err != nil {
		return ferrors.Failed(err, "recording submitted state for %s", job.ID)
	}

	// 6. commit and tag the now-validated content.
	if err := w.Versioner.CommitSubmitted(stagingDir, job.ID); err != nil {
		return err
	}

	// 7. promote the staging directory to permanent storage.
	if err := promote.Promote(stagingDir, storageDir); err != nil {
		return err
	}

	// optionally mirror the now-promoted deposit off-site. A mirror
	// failure never undoes a successful promotion or changes the
	// deposit's terminal state — it is only ever logged.
	if w.Mirror != nil {
		if err := promote.Mirror(storageDir, job.ID, w.Mirror); err != nil {
			log.Printf("finalize: mirroring %s: %s", job.ID, err)
		}
	}

	// schedule the deposit's first fixity check now that a valid bag
	// sits at storageDir. This is outside the seven-step sequence
	// spec.md §4.7 defines and its failure never turns a SUBMITTED
	// deposit into anything else — it only ever gets logged.
	if w.Ledger != nil {
		if err := fixity.ScheduleNext(w.Ledger, job.ID); err != nil {
			log.Printf("finalize: scheduling fixity check for %s: %s", job.ID, err)
		}
	}
	return nil
}

func classify(err error) (deposit.State, string) {
	if ferrors.IsInvalid(err) {
		return deposit.Invalid, err.Error()
	}
	if ferrors.IsFailed(err) {
		return deposit.Failed, err.Error()
	}
	return deposit.Failed, "Unexpected failure in deposit: " + err.Error()
}
