package importer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one row of the import_runs table.
type Run struct {
	ID      int64     `json:"id"`
	File    string    `json:"file"`
	Format  string    `json:"format"`
	Mode    Mode      `json:"mode"`
	Actor   string    `json:"actor"`
	Rows    int       `json:"rows"`
	Added   int       `json:"added"`
	Updated int       `json:"updated"`
	Skipped int       `json:"skipped"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// RunLog keeps the import_runs SQLite table.
type RunLog struct {
	db *sql.DB
}

// OpenRunLog opens (or creates) the SQLite database at path and ensures the
// import_runs table exists.
func OpenRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS import_runs (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		file     TEXT NOT NULL,
		format   TEXT NOT NULL,
		mode     TEXT NOT NULL,
		actor    TEXT NOT NULL DEFAULT '',
		row_count INTEGER NOT NULL,
		added    INTEGER NOT NULL,
		updated  INTEGER NOT NULL,
		skipped  INTEGER NOT NULL,
		error    TEXT NOT NULL DEFAULT '',
		at       INTEGER NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create import_runs table: %w", err)
	}
	return &RunLog{db: db}, nil
}

// Close closes the database.
func (l *RunLog) Close() error {
	return l.db.Close()
}

// Record appends run and returns it with its ID set. A zero At is stamped
// with the current time.
func (l *RunLog) Record(ctx context.Context, run Run) (Run, error) {
	if run.At.IsZero() {
		run.At = time.Now()
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO import_runs (file, format, mode, actor, row_count, added, updated, skipped, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.File, run.Format, string(run.Mode), run.Actor, run.Rows,
		run.Added, run.Updated, run.Skipped, run.Error, run.At.UnixMilli(),
	)
	if err != nil {
		return run, fmt.Errorf("record import run: %w", err)
	}
	run.ID, _ = res.LastInsertId()
	return run, nil
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, file, format, mode, actor, row_count, added, updated, skipped, error, at
		FROM import_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r    Run
			mode string
			at   int64
		)
		if err := rows.Scan(&r.ID, &r.File, &r.Format, &mode, &r.Actor, &r.Rows,
			&r.Added, &r.Updated, &r.Skipped, &r.Error, &at); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		r.Mode = Mode(mode)
		r.At = time.UnixMilli(at)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
