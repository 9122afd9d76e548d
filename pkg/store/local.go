package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/tabular"
)

// Local file names inside the data directory.
const (
	ClientsXLSX = "clientes.xlsx"
	ClientsCSV  = "clientes.csv"
	ClientsJSON = "clientes.json"
	HistoryCSV  = "historial.csv"
)

// Formats understood by the local store, in read priority order.
var LocalFormats = []string{"xlsx", "csv", "json"}

var localFiles = map[string]string{
	"xlsx": ClientsXLSX,
	"csv":  ClientsCSV,
	"json": ClientsJSON,
}

// Local keeps the tables as files in a directory. Clients are read from the
// first readable enabled format in LocalFormats order and written to every
// enabled format. History lives in historial.csv.
type Local struct {
	mu      sync.Mutex
	dir     string
	formats []string
	logger  *slog.Logger
}

// NewLocal returns a file store rooted at dir. formats selects the client
// files written on save; nil enables all of them.
func NewLocal(dir string, formats []string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if formats == nil {
		formats = LocalFormats
	}
	for _, f := range formats {
		if _, ok := localFiles[f]; !ok {
			return nil, fmt.Errorf("unknown local format %q", f)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Local{dir: dir, formats: slices.Clone(formats), logger: logger.With("component", "local-store")}, nil
}

// LoadClients reads the first enabled client file that exists and parses.
// A directory without client files is an empty table.
func (l *Local) LoadClients(ctx context.Context) ([]clients.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	for _, format := range LocalFormats {
		if !slices.Contains(l.formats, format) {
			continue
		}
		path := filepath.Join(l.dir, localFiles[format])
		tbl, err := readTable(path, format)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			l.logger.Warn("client file unreadable, trying next format", "file", path, "error", err)
			lastErr = err
			continue
		}
		out := make([]clients.Client, len(tbl.Rows))
		for i, row := range tbl.Rows {
			out[i] = clients.FromRecord(tbl.Header, row)
		}
		return out, nil
	}
	return nil, lastErr
}

// SaveClients rewrites every enabled client file.
func (l *Local) SaveClients(ctx context.Context, rows []clients.Client) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tbl := &tabular.Table{Header: clients.Columns, Rows: make([][]string, len(rows))}
	for i := range rows {
		tbl.Rows[i] = rows[i].Values()
	}
	var errs []error
	for _, format := range l.formats {
		path := filepath.Join(l.dir, localFiles[format])
		if err := writeTable(path, format, tbl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Local) LoadHistory(ctx context.Context) ([]clients.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readHistory()
}

func (l *Local) AppendHistory(ctx context.Context, entries ...clients.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := l.readHistory()
	if err != nil {
		return err
	}
	return l.writeHistory(append(all, entries...))
}

func (l *Local) DeleteHistory(ctx context.Context, clientID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := l.readHistory()
	if err != nil {
		return 0, err
	}
	kept := slices.DeleteFunc(all, func(e clients.HistoryEntry) bool { return e.ID == clientID })
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, l.writeHistory(kept)
}

func (l *Local) Close() error { return nil }

func (l *Local) readHistory() ([]clients.HistoryEntry, error) {
	tbl, err := readTable(filepath.Join(l.dir, HistoryCSV), "csv")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]clients.HistoryEntry, len(tbl.Rows))
	for i, row := range tbl.Rows {
		out[i] = clients.HistoryFromRecord(tbl.Header, row)
	}
	return out, nil
}

func (l *Local) writeHistory(entries []clients.HistoryEntry) error {
	tbl := &tabular.Table{Header: clients.HistoryColumns, Rows: make([][]string, len(entries))}
	for i, e := range entries {
		tbl.Rows[i] = e.Values()
	}
	return writeTable(filepath.Join(l.dir, HistoryCSV), "csv", tbl)
}

func readTable(path, format string) (*tabular.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch format {
	case "xlsx":
		return tabular.ReadXLSX(f)
	case "csv":
		return tabular.ReadCSV(f, tabular.CSVOptions{})
	case "json":
		return tabular.ReadJSON(f)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func writeTable(path, format string, tbl *tabular.Table) error {
	return tabular.WriteFile(path, func(w io.Writer) error {
		switch format {
		case "xlsx":
			return tabular.WriteXLSX(w, tbl)
		case "csv":
			return tabular.WriteCSV(w, tbl)
		case "json":
			return tabular.WriteJSON(w, tbl)
		}
		return fmt.Errorf("unknown format %q", format)
	})
}
