package fixity

import (
	"database/sql"
	"time"

	_ "github.com/cznic/ql/driver"

	"github.com/pkg/errors"
)

// qlLedger is the default Ledger backend: an embedded cznic/ql database
// requiring no external server, exactly the role server/db_ql.go's
// qlCache plays for the teacher's development deployments. It keeps only
// the fixity table; the teacher's companion items cache table has no
// analogue in this system.
type qlLedger struct {
	db *sql.DB
}

var _ Ledger = &qlLedger{}

const qlFixitySchema = `
	CREATE TABLE IF NOT EXISTS fixity (
		id string,
		scheduled_time time,
		status string,
		notes string
	);
	CREATE INDEX IF NOT EXISTS fixityid ON fixity (id);
	CREATE INDEX IF NOT EXISTS fixitytime ON fixity (scheduled_time);
	CREATE INDEX IF NOT EXISTS fixitystatus ON fixity (status);
`

// NewQL opens (creating if necessary) an embedded ql database at filename
// and returns a Ledger backed by it. filename "memory" keeps the database
// entirely in memory, for tests and single-process dev runs.
func NewQL(filename string) (Ledger, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fixity: opening ql database")
	}
	if _, err := execList(db, qlFixitySchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "fixity: initializing ql schema")
	}
	return &qlLedger{db: db}, nil
}

func (l *qlLedger) ScheduleCheck(depositID string, at time.Time) error {
	const query = `INSERT INTO fixity VALUES (?1, ?2, ?3, ?4)`
	_, err := execList(l.db, query, depositID, at, string(Scheduled), "")
	return err
}

func (l *qlLedger) NextDue(cutoff time.Time) string {
	const query = `
		SELECT id, scheduled_time
		FROM fixity
		WHERE status == "scheduled" AND scheduled_time <= ?1
		ORDER BY scheduled_time
		LIMIT 1;`

	var id string
	var when time.Time
	err := l.db.QueryRow(query, cutoff).Scan(&id, &when)
	if err != nil {
		return ""
	}
	return id
}

func (l *qlLedger) RecordResult(depositID string, status Status, notes string) error {
	const query = `
		UPDATE fixity
		SET status = ?2, notes = ?3
		WHERE id() in
			(SELECT id from
				(SELECT id() as id, scheduled_time
				FROM fixity
				WHERE id == ?1 and status == "scheduled"
				ORDER BY scheduled_time
				LIMIT 1))`

	result, err := execList(l.db, query, depositID, string(status), notes)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		const insert = `INSERT INTO fixity VALUES (?1,?2,?3,?4)`
		_, err = execList(l.db, insert, depositID, time.Now(), string(status), notes)
	}
	return err
}

func (l *qlLedger) History(depositID string) ([]Result, error) {
	const query = `
		SELECT id, scheduled_time, status, notes
		FROM fixity
		WHERE id == ?1
		ORDER BY scheduled_time DESC`

	rows, err := l.db.Query(query, depositID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var status string
		if err := rows.Scan(&r.DepositID, &r.Scheduled, &status, &r.Notes); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (l *qlLedger) Close() error { return l.db.Close() }

// execList wraps a single Exec in its own transaction, the same pattern
// server/db_ql.go's performExec uses to work around the ql driver's lack
// of autocommit.
func execList(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit()
}
