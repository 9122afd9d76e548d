// CLAUDE:SUMMARY Persistence contract for the client table and audit history, with a primary/secondary fallback chain and load-and-repair.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/onboarding-crm/pkg/clients"
)

// Store persists the client table and its history. SaveClients replaces
// the whole table; history is append-only except for per-client deletion.
type Store interface {
	LoadClients(ctx context.Context) ([]clients.Client, error)
	SaveClients(ctx context.Context, rows []clients.Client) error
	LoadHistory(ctx context.Context) ([]clients.HistoryEntry, error)
	AppendHistory(ctx context.Context, entries ...clients.HistoryEntry) error
	DeleteHistory(ctx context.Context, clientID string) (int, error)
	Close() error
}

// Fallback reads from Primary and degrades to Secondary when Primary fails.
// Writes go to both; an error is returned only when both fail.
type Fallback struct {
	Primary   Store
	Secondary Store
	Logger    *slog.Logger
}

func (f *Fallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// LoadClients reads Primary, falling back to Secondary on error.
func (f *Fallback) LoadClients(ctx context.Context) ([]clients.Client, error) {
	rows, err := f.Primary.LoadClients(ctx)
	if err == nil {
		return rows, nil
	}
	f.logger().Warn("primary store unavailable, reading secondary", "op", "load_clients", "error", err)
	return f.Secondary.LoadClients(ctx)
}

// SaveClients writes rows to both stores.
func (f *Fallback) SaveClients(ctx context.Context, rows []clients.Client) error {
	return f.both("save_clients", func(s Store) error { return s.SaveClients(ctx, rows) })
}

// LoadHistory reads Primary, falling back to Secondary on error.
func (f *Fallback) LoadHistory(ctx context.Context) ([]clients.HistoryEntry, error) {
	entries, err := f.Primary.LoadHistory(ctx)
	if err == nil {
		return entries, nil
	}
	f.logger().Warn("primary store unavailable, reading secondary", "op", "load_history", "error", err)
	return f.Secondary.LoadHistory(ctx)
}

// AppendHistory appends entries to both stores.
func (f *Fallback) AppendHistory(ctx context.Context, entries ...clients.HistoryEntry) error {
	return f.both("append_history", func(s Store) error { return s.AppendHistory(ctx, entries...) })
}

// DeleteHistory deletes from both stores and returns the larger count.
func (f *Fallback) DeleteHistory(ctx context.Context, clientID string) (int, error) {
	var n int
	err := f.both("delete_history", func(s Store) error {
		m, err := s.DeleteHistory(ctx, clientID)
		n = max(n, m)
		return err
	})
	return n, err
}

// Close closes both stores.
func (f *Fallback) Close() error {
	return errors.Join(f.Primary.Close(), f.Secondary.Close())
}

func (f *Fallback) both(op string, fn func(Store) error) error {
	perr := fn(f.Primary)
	serr := fn(f.Secondary)
	switch {
	case perr != nil && serr != nil:
		return fmt.Errorf("%s: %w", op, errors.Join(perr, serr))
	case perr != nil:
		f.logger().Warn("primary store write failed, secondary kept", "op", op, "error", perr)
	case serr != nil:
		f.logger().Warn("secondary store write failed", "op", op, "error", serr)
	}
	return nil
}

// LoadRepaired loads the client table and repairs blank or duplicate ids.
// The table is written back only when a row changed.
func LoadRepaired(ctx context.Context, s Store, logger *slog.Logger) ([]clients.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := s.LoadClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	fixed, changed := clients.RepairIDs(rows)
	if len(changed) == 0 {
		return rows, nil
	}
	logger.Info("repaired client ids", "rows", len(changed))
	if err := s.SaveClients(ctx, fixed); err != nil {
		return nil, fmt.Errorf("save repaired clients: %w", err)
	}
	return fixed, nil
}
