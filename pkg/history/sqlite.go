package history

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
)

// SQLite stores records in a feeding_history table.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open history database %s", path)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS feeding_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dog TEXT NOT NULL,
		time TEXT NOT NULL,
		voice TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		datetime TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feeding_history_datetime ON feeding_history(datetime);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to create history schema")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, r Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feeding_history (dog, time, voice, amount, status, datetime) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Dog, r.Time, r.Voice, r.Amount, string(r.Status), r.DateTime)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to insert history record")
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM feeding_history WHERE id NOT IN (SELECT id FROM feeding_history ORDER BY id DESC LIMIT ?)`,
		MaxRecords)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to trim history")
	}

	return tx.Commit()
}

func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dog, time, voice, amount, status, datetime
		FROM feeding_history
		ORDER BY datetime DESC, id DESC
	`)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to query history")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.Dog, &r.Time, &r.Voice, &r.Amount, &status, &r.DateTime); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to scan history record")
		}
		r.Status = Status(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
