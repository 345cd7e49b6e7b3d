// Package fixity implements the Deposit Fixity Ledger (C9), a supplemental
// component named in SPEC_FULL.md: once a deposit reaches SUBMITTED, the
// ledger schedules periodic re-validation of the bag now sitting at
// storageDir and records the outcome for an operator to review. It does
// not participate in the deposit state machine in spec.md §3 — SUBMITTED
// stays terminal regardless of what a later fixity check finds.
//
// This is the direct descendant of the teacher repo's server/fixity.go
// plus its two database backends, server/db_ql.go and server/db_mysql.go,
// narrowed to the one table those files both maintain for fixity
// (the "items" cache table they also carry has no analogue here, since
// this system has no equivalent of bendo's item/blob catalog).
package fixity

import (
	"time"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"
)

// Status is the outcome of the most recent re-validation of a deposit.
type Status string

const (
	// Scheduled means a check has been requested but not yet run.
	Scheduled Status = "scheduled"
	// OK means the bag at storageDir validated cleanly.
	OK Status = "ok"
	// Error means the bag failed validation or could not be read.
	Error Status = "error"
)

// Result is one row of the fixity ledger: the outcome of a single
// scheduled or completed check for a deposit.
type Result struct {
	DepositID string
	Scheduled time.Time
	Status    Status
	Notes     string
}

// Ledger persists fixity check scheduling and outcomes. It generalizes the
// teacher's FixityDB interface (server/db.go et al.) narrowed to the
// single fixity table this system needs; the item-catalog half of
// FixityDB has no home here.
type Ledger interface {
	// ScheduleCheck records that depositId should be re-validated at or
	// after at.
	ScheduleCheck(depositID string, at time.Time) error
	// NextDue returns the depositId of the oldest scheduled check whose
	// time is at or before cutoff, or "" if none are due.
	NextDue(cutoff time.Time) string
	// RecordResult updates the due check for depositId with status and
	// notes. If no scheduled row exists for depositId, one is created
	// with the current time so the result is not lost.
	RecordResult(depositID string, status Status, notes string) error
	// History returns every recorded check for depositId, most recent
	// first, for operator inspection.
	History(depositID string) ([]Result, error)
	// Close releases the underlying database connection.
	Close() error
}

// dbVersion adapts the migration package's version bookkeeping to a
// specific backend's SQL dialect. It is the teacher's server/db.go,
// unchanged: the same three-statement shape (get/set/create) works for
// both the embedded ql driver and MySQL.
type dbVersion struct {
	GetSQL    string
	SetSQL    string
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return errors.Wrap(err, "fixity: creating migration version table")
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	if _, err := tx.Exec(d.CreateSQL); err != nil {
		return err
	}
	return d.set(tx, 0)
}
