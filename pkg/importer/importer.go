// CLAUDE:SUMMARY Merges an uploaded table into the client table: column mapping, catalog canonicalization, three merge modes, history entries and a final ID repair.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/tabular"
)

// Mode selects how imported rows meet existing ones.
type Mode string

const (
	// ModeAppend adds rows whose name and phone are not already present.
	ModeAppend Mode = "append"
	// ModeUpdateByID overwrites the row with the same ID, adding unknown ones.
	ModeUpdateByID Mode = "update_by_id"
	// ModeUpsertNamePhone overwrites the row with the same name and phone,
	// adding unknown ones.
	ModeUpsertNamePhone Mode = "upsert_name_phone"
)

// History notes written by an import.
const (
	NoteCreated = "Importación - creado"
	NoteUpdated = "Importación - actualizado"
)

var (
	// ErrUnknownMode is returned for a Mode outside the constants above.
	ErrUnknownMode = errors.New("unknown import mode")
	// ErrNoColumns is returned when no source column maps to a client column.
	ErrNoColumns = errors.New("no importable columns")
)

// Options drive one Merge.
type Options struct {
	Mode Mode `json:"mode"`
	// Mapping maps client column to source header. Nil maps every source
	// header whose normalized name is a client column.
	Mapping map[string]string `json:"mapping,omitempty"`
	Actor   string            `json:"actor,omitempty"`
	// DryRun computes the result without saving anything.
	DryRun bool `json:"dry_run,omitempty"`
}

// Result is the merged table and what changed.
type Result struct {
	Rows             []clients.Client       `json:"-"`
	History          []clients.HistoryEntry `json:"history"`
	Added            int                    `json:"added"`
	Updated          int                    `json:"updated"`
	Skipped          int                    `json:"skipped"`
	Repaired         []int                  `json:"repaired,omitempty"`
	NewCatalogValues map[string][]string    `json:"new_catalog_values,omitempty"`
}

// Importer merges tables into the client table.
type Importer struct {
	catalogs *catalog.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New returns an Importer. catalogs may be nil, in which case values are
// only trimmed.
func New(catalogs *catalog.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{catalogs: catalogs, logger: logger.With("component", "importer"), now: time.Now}
}

// Merge folds tbl into base and returns the new table. Neither base nor
// the catalogs are modified; catalog values seen in the import and missing
// from their catalog are listed in NewCatalogValues for GrowCatalogs.
func (im *Importer) Merge(ctx context.Context, base []clients.Client, tbl *tabular.Table, opts Options) (*Result, error) {
	switch opts.Mode {
	case ModeAppend, ModeUpdateByID, ModeUpsertNamePhone:
	case "":
		opts.Mode = ModeAppend
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}

	cols, err := resolveMapping(tbl.Header, opts.Mapping)
	if err != nil {
		return nil, err
	}
	incoming := im.decode(tbl, cols)

	res := &Result{
		Rows:             slices.Clone(base),
		NewCatalogValues: make(map[string][]string),
	}
	im.collectCatalogValues(incoming, cols, res)

	now := im.now()
	for _, in := range incoming {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := cols["asesor"]; ok {
			in.Asesor = clients.MatchAdvisor(in.Asesor, clients.Advisors(res.Rows))
		}

		idx := -1
		switch opts.Mode {
		case ModeUpdateByID:
			idx = clients.Find(res.Rows, in.ID)
		case ModeUpsertNamePhone:
			idx = clients.FindByNamePhone(res.Rows, in.Nombre, in.Telefono)
		case ModeAppend:
			if strings.TrimSpace(in.Nombre) != "" && strings.TrimSpace(in.Telefono) != "" &&
				clients.FindByNamePhone(res.Rows, in.Nombre, in.Telefono) >= 0 {
				res.Skipped++
				continue
			}
		}

		if idx >= 0 {
			before := res.Rows[idx]
			row := before
			for col := range cols {
				if col != "id" {
					row.SetField(col, in.Field(col))
				}
			}
			res.Rows[idx] = row
			res.History = append(res.History,
				clients.NewHistoryEntry(&before, row, clients.ActionStatusChanged, opts.Actor, NoteUpdated, now))
			res.Updated++
			continue
		}

		id := strings.TrimSpace(in.ID)
		if id == "" || clients.Find(res.Rows, id) >= 0 {
			id = clients.AllocateNextID(clients.IDs(res.Rows))
		}
		in.ID = id
		res.Rows = append(res.Rows, in)
		res.History = append(res.History,
			clients.NewHistoryEntry(nil, in, clients.ActionCreated, opts.Actor, NoteCreated, now))
		res.Added++
	}

	res.Rows, res.Repaired = clients.RepairIDs(res.Rows)
	im.logger.Info("import merged",
		"mode", opts.Mode, "rows", len(tbl.Rows),
		"added", res.Added, "updated", res.Updated, "skipped", res.Skipped,
		"repaired", len(res.Repaired), "dry_run", opts.DryRun)
	return res, nil
}

// resolveMapping returns client column -> source column index.
func resolveMapping(header []string, mapping map[string]string) (map[string]int, error) {
	cols := make(map[string]int)
	if mapping == nil {
		for i, h := range header {
			col := clients.ColumnFor(h)
			if _, dup := cols[col]; col == "" || dup {
				continue
			}
			cols[col] = i
		}
	} else {
		for col, src := range mapping {
			if !slices.Contains(clients.Columns, col) {
				return nil, fmt.Errorf("mapping: unknown client column %q", col)
			}
			if strings.TrimSpace(src) == "" {
				continue
			}
			i := slices.Index(header, strings.TrimSpace(src))
			if i < 0 {
				return nil, fmt.Errorf("mapping: source column %q not in file", src)
			}
			cols[col] = i
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	return cols, nil
}

// decode turns source rows into trimmed clients, canonicalizing catalog columns.
func (im *Importer) decode(tbl *tabular.Table, cols map[string]int) []clients.Client {
	out := make([]clients.Client, 0, len(tbl.Rows))
	for _, rec := range tbl.Rows {
		var c clients.Client
		for col, i := range cols {
			if i < len(rec) {
				c.SetField(col, strings.TrimSpace(rec[i]))
			}
		}
		if im.catalogs != nil {
			for _, cc := range clients.CatalogColumns {
				if _, ok := cols[cc.Column]; !ok {
					continue
				}
				if r, err := im.catalogs.Canonicalize(cc.Catalog, c.Field(cc.Column)); err == nil {
					c.SetField(cc.Column, r.Value)
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// collectCatalogValues records the non-blank catalog values of incoming
// that their catalog does not hold verbatim.
func (im *Importer) collectCatalogValues(incoming []clients.Client, cols map[string]int, res *Result) {
	if im.catalogs == nil {
		return
	}
	for _, cc := range clients.CatalogColumns {
		if _, ok := cols[cc.Column]; !ok {
			continue
		}
		snap, err := im.catalogs.Snapshot(cc.Catalog)
		if err != nil {
			continue
		}
		fresh := make(map[string]bool)
		for i := range incoming {
			v := incoming[i].Field(cc.Column)
			if v != "" && !snap.Contains(v) {
				fresh[v] = true
			}
		}
		if len(fresh) == 0 {
			continue
		}
		values := make([]string, 0, len(fresh))
		for v := range fresh {
			values = append(values, v)
		}
		sort.Strings(values)
		res.NewCatalogValues[cc.Catalog] = values
	}
}

// GrowCatalogs appends res.NewCatalogValues to their catalogs. Call it once
// the merged rows are saved.
func (im *Importer) GrowCatalogs(res *Result) error {
	if im.catalogs == nil {
		return nil
	}
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(res.NewCatalogValues)) {
		if _, err := im.catalogs.Append(id, res.NewCatalogValues[id]...); err != nil {
			errs = append(errs, fmt.Errorf("grow catalog %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
