package fixity

import (
	"database/sql"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"

	"github.com/pkg/errors"
)

// mysqlLedger is the optional Ledger backend for multi-process
// deployments, adapted from server/db_mysql.go's msqlCache. Unlike the
// embedded ql backend it runs its schema through BurntSushi/migration so
// the table can evolve across deployments without a manual ALTER TABLE
// step, exactly as the teacher's mysqlMigrations list does.
type mysqlLedger struct {
	db *sql.DB
}

var _ Ledger = &mysqlLedger{}

var mysqlMigrations = []migration.Migrator{
	mysqlSchema1,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

func mysqlSchema1(tx migration.LimitedTx) error {
	const stmt = `CREATE TABLE IF NOT EXISTS fixity (
		id INT PRIMARY KEY AUTO_INCREMENT,
		deposit_id VARCHAR(255),
		scheduled_time DATETIME,
		status VARCHAR(32),
		notes TEXT)`
	_, err := tx.Exec(stmt)
	return err
}

// NewMySQL connects to a MySQL database at dial (a go-sql-driver DSN) and
// returns a Ledger backed by it, running any pending schema migrations.
func NewMySQL(dial string) (Ledger, error) {
	db, err := migration.OpenWith("mysql", dial, mysqlMigrations, mysqlVersioning.Get, mysqlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(err, "fixity: opening mysql ledger")
	}
	return &mysqlLedger{db: db}, nil
}

func (l *mysqlLedger) ScheduleCheck(depositID string, at time.Time) error {
	const query = `INSERT INTO fixity (deposit_id, scheduled_time, status, notes) VALUES (?, ?, ?, ?)`
	_, err := l.db.Exec(query, depositID, at, string(Scheduled), "")
	return err
}

func (l *mysqlLedger) NextDue(cutoff time.Time) string {
	const query = `
		SELECT deposit_id FROM fixity
		WHERE status = ? AND scheduled_time <= ?
		ORDER BY scheduled_time LIMIT 1`

	var id string
	if err := l.db.QueryRow(query, string(Scheduled), cutoff).Scan(&id); err != nil {
		return ""
	}
	return id
}

func (l *mysqlLedger) RecordResult(depositID string, status Status, notes string) error {
	const query = `
		UPDATE fixity SET status = ?, notes = ?
		WHERE id = (
			SELECT id FROM (
				SELECT id FROM fixity
				WHERE deposit_id = ? AND status = ?
				ORDER BY scheduled_time LIMIT 1
			) AS t
		)`

	result, err := l.db.Exec(query, string(status), notes, depositID, string(Scheduled))
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		const insert = `INSERT INTO fixity (deposit_id, scheduled_time, status, notes) VALUES (?, ?, ?, ?)`
		_, err = l.db.Exec(insert, depositID, time.Now(), string(status), notes)
	}
	return err
}

func (l *mysqlLedger) History(depositID string) ([]Result, error) {
	const query = `
		SELECT deposit_id, scheduled_time, status, notes FROM fixity
		WHERE deposit_id = ?
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

func (l *mysqlLedger) Close() error { return l.db.Close() }
