package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/clients"
)

// dialect captures the few differences between SQLite and PostgreSQL.
type dialect struct {
	name      string
	serialKey string
	numbered  bool // $1, $2 ... instead of ?
}

// sqlStore implements Store over database/sql for both engines.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) migrate(ctx context.Context) error {
	cols := make([]string, len(clients.Columns))
	for i, c := range clients.Columns {
		cols[i] = c + " TEXT NOT NULL DEFAULT ''"
	}
	hcols := make([]string, len(clients.HistoryColumns))
	for i, c := range clients.HistoryColumns {
		hcols[i] = c + " TEXT NOT NULL DEFAULT ''"
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS clients (
		position INTEGER PRIMARY KEY,
		` + strings.Join(cols, ",\n\t\t") + `
	)`,
		`CREATE TABLE IF NOT EXISTS history (
		seq ` + s.d.serialKey + `,
		` + strings.Join(hcols, ",\n\t\t") + `
	)`,
		`CREATE INDEX IF NOT EXISTS idx_history_id ON history(id)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s migrate: %w", s.d.name, err)
		}
	}
	return nil
}

// bind rewrites ? placeholders for dialects that number them.
func (s *sqlStore) bind(q string) string {
	if !s.d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *sqlStore) LoadClients(ctx context.Context) ([]clients.Client, error) {
	q := `SELECT ` + strings.Join(clients.Columns, ", ") + ` FROM clients ORDER BY position`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s load clients: %w", s.d.name, err)
	}
	defer rows.Close()

	var out []clients.Client
	vals := make([]string, len(clients.Columns))
	dest := make([]any, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s scan client: %w", s.d.name, err)
		}
		out = append(out, clients.FromRecord(clients.Columns, vals))
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveClients(ctx context.Context, rows []clients.Client) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM clients`); err != nil {
			return fmt.Errorf("clear clients: %w", err)
		}
		q := s.bind(`INSERT INTO clients (position, ` + strings.Join(clients.Columns, ", ") +
			`) VALUES (` + placeholders(len(clients.Columns)+1) + `)`)
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(clients.Columns)+1)
		for i := range rows {
			args[0] = i
			for j, v := range rows[i].Values() {
				args[j+1] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert client %q: %w", rows[i].ID, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) LoadHistory(ctx context.Context) ([]clients.HistoryEntry, error) {
	q := `SELECT ` + strings.Join(clients.HistoryColumns, ", ") + ` FROM history ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s load history: %w", s.d.name, err)
	}
	defer rows.Close()

	var out []clients.HistoryEntry
	for rows.Next() {
		var e clients.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Nombre, &e.EstatusOld, &e.EstatusNew, &e.SegundoOld,
			&e.SegundoNew, &e.Observaciones, &e.Action, &e.Actor, &e.TS); err != nil {
			return nil, fmt.Errorf("%s scan history: %w", s.d.name, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) AppendHistory(ctx context.Context, entries ...clients.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		q := s.bind(`INSERT INTO history (` + strings.Join(clients.HistoryColumns, ", ") +
			`) VALUES (` + placeholders(len(clients.HistoryColumns)) + `)`)
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return fmt.Errorf("prepare history insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			vals := e.Values()
			args := make([]any, len(vals))
			for i, v := range vals {
				args[i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert history for %q: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) DeleteHistory(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM history WHERE id = ?`), clientID)
	if err != nil {
		return 0, fmt.Errorf("%s delete history: %w", s.d.name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s begin: %w", s.d.name, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s commit: %w", s.d.name, err)
	}
	return nil
}
