// Package frontend implements C8, the Deposit Ingress Front: the
// synchronous entry point that receives one deposit part, verifies its
// hash, persists lifecycle state, and — once the upload is complete —
// hands the deposit off to the finalization worker (finalize.Worker)
// through its bounded queue.
//
// The full SWORDv2 Atom Multipart Related binding (request parsing, auth,
// collection/service-document routing) is the external collaborator named
// in spec.md §1; Part is the narrow shape that binding is assumed to
// deliver once it has done its own parsing. Routes below wire up enough of
// an HTTP adapter to dispatch, enforce the DRAFT precondition, and return
// receipts, in the same shape server/routes.go's RESTServer wires
// httprouter routes to handlers — but the wire format here is a minimal
// stand-in, not the real Atom binding.
package frontend

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/depositprops"
	"github.com/ndlib/sworddeposit/finalize"
	"github.com/ndlib/sworddeposit/util"
)

// Part is what the SWORDv2 binding delivers to C8 for a single incoming
// request, per spec.md §6.
type Part struct {
	DepositID  string
	Filename   string
	MD5        string
	MimeType   deposit.MimeType
	InProgress bool
	Body       io.Reader
}

// Kind classifies a synchronous ingress failure so callers (an HTTP
// handler, a test) can map it to the right client-visible error, per
// spec.md §7.
type Kind int

const (
	// KindChecksumMismatch means the MD5 the client supplied for this
	// part does not match the bytes actually received.
	KindChecksumMismatch Kind = iota
	// KindBadRequest means the part could not be written to disk.
	KindBadRequest
	// KindMethodNotAllowed means the deposit is not in DRAFT and cannot
	// accept another part.
	KindMethodNotAllowed
)

// Error is a classified synchronous ingress failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func badRequest(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func checksumMismatch(format string, args ...interface{}) error {
	return &Error{Kind: KindChecksumMismatch, Msg: fmt.Sprintf(format, args...)}
}

func methodNotAllowed(format string, args ...interface{}) error {
	return &Error{Kind: KindMethodNotAllowed, Msg: fmt.Sprintf(format, args...)}
}

// Receipt is the deposit receipt C8 returns to a client, per spec.md §6.
type Receipt struct {
	EditIRI            string   `json:"editIRI"`
	EditMediaIRI       string   `json:"editMediaIRI"`
	StatementURI       string   `json:"statementURI"`
	Packaging          []string `json:"packaging"`
	Treatment          string   `json:"treatment"`
	VerboseDescription string   `json:"verboseDescription"`
}

const treatment = "[1] unpacking [2] verifying integrity [3] storing persistently"

// Ingress is C8: it owns the synchronous receive path shared by every
// incoming part, whether or not the upload is chunked.
type Ingress struct {
	Props   *depositprops.Store
	Queue   *finalize.Queue
	BaseURL string
}

// Receive handles one incoming part for depositId: it writes the payload
// into the deposit's staging directory, verifies its checksum, and either
// waits for more parts (inProgress) or enqueues the deposit for
// finalization. It never blocks on finalization itself — only on Queue.Submit
// when the queue is full, which is the system's backpressure mechanism
// (spec.md §5).
func (in *Ingress) Receive(ctx context.Context, part Part) (Receipt, error) {
	if err := in.checkPrecondition(part.DepositID); err != nil {
		return Receipt{}, err
	}

	stagingDir := in.Props.StagingDir(part.DepositID)
	if err := os.MkdirAll(stagingDir, 0775); err != nil {
		return Receipt{}, badRequest("creating staging directory: %s", err)
	}

	dest := filepath.Join(stagingDir, filepath.Base(part.Filename))
	sum, err := writeAndSum(dest, part.Body)
	if err != nil {
		os.Remove(dest)
		return Receipt{}, badRequest("writing part %s: %s", part.Filename, err)
	}
	if sum != part.MD5 {
		os.Remove(dest)
		return Receipt{}, checksumMismatch("MD5 mismatch for %s: got %s, expected %s", part.Filename, sum, part.MD5)
	}

	if part.InProgress {
		if err := in.Props.Set(part.DepositID, deposit.Draft, "receiving parts", true); err != nil {
			return Receipt{}, badRequest("recording state: %s", err)
		}
		return in.receipt(part), nil
	}

	if err := in.Props.Set(part.DepositID, deposit.Finalizing, "queued for finalization", true); err != nil {
		return Receipt{}, badRequest("recording state: %s", err)
	}
	job := finalize.Job{ID: part.DepositID, MimeType: part.MimeType}
	if err := in.Queue.Submit(ctx, job); err != nil {
		return Receipt{}, badRequest("enqueueing deposit for finalization: %s", err)
	}
	return in.receipt(part), nil
}

// checkPrecondition enforces spec.md §4.8: a continuation request (and,
// equally, the final part) is only accepted while the deposit is DRAFT or
// has not been seen before. Any other recorded state means a previous run
// already claimed this deposit.
func (in *Ingress) checkPrecondition(id string) error {
	state, err := in.Props.GetState(id)
	if err == depositprops.ErrNotFound {
		return nil
	}
	if err != nil {
		return badRequest("checking deposit state: %s", err)
	}
	if state != deposit.Draft {
		return methodNotAllowed("deposit %s is %s, not DRAFT", id, state)
	}
	return nil
}

func (in *Ingress) receipt(part Part) Receipt {
	id := part.DepositID
	return Receipt{
		EditIRI:            fmt.Sprintf("%s/container/%s", in.BaseURL, id),
		EditMediaIRI:       fmt.Sprintf("%s/media/%s", in.BaseURL, id),
		StatementURI:       fmt.Sprintf("%s/statement/%s", in.BaseURL, id),
		Packaging:          []string{"http://purl.org/net/sword/package/BagIt"},
		Treatment:          treatment,
		VerboseDescription: fmt.Sprintf("received successfully: %s; MD5: %s", part.Filename, part.MD5),
	}
}

// writeAndSum streams body to path and returns the lowercase hex MD5 of
// what was written, in one pass, using the same util.HashWriter the bag
// validator uses to checksum payload files.
func writeAndSum(path string, body io.Reader) (string, error) {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hw := util.NewMD5Writer(out)
	if _, err := io.Copy(hw, body); err != nil {
		return "", err
	}
	if err := out.Sync(); err != nil {
		return "", err
	}
	sum, _ := hw.CheckMD5(nil)
	return hex.EncodeToString(sum), nil
}
