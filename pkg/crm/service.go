// CLAUDE:SUMMARY Application service owning the client table: CRUD with audit history, ID allocation and repair, catalog-backed search and canonicalization, imports and documents.
package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/docs"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/metrics"
	"github.com/hazyhaar/onboarding-crm/pkg/search"
	"github.com/hazyhaar/onboarding-crm/pkg/store"
)

var (
	// ErrNotFound is returned for unknown clients, catalogs and lists.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a supplied client ID is already taken.
	ErrConflict = errors.New("conflict")
	// ErrDocumentsDisabled is returned by document operations without a docs store.
	ErrDocumentsDisabled = errors.New("documents disabled")
)

// Derived search lists, next to the catalog IDs.
const (
	ListAdvisors = "asesores"
	ListClients  = "clientes"
)

// Config wires a Service. Store and Catalogs are required.
type Config struct {
	Store    store.Store
	Catalogs *catalog.Store
	Cache    *search.Cache
	Docs     *docs.Store
	Importer *importer.Importer
	Runs     *importer.RunLog
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service owns the in-memory client table. Mutations hold the write lock
// for their whole duration, persistence included, so there is one writer.
type Service struct {
	mu      sync.RWMutex
	rows    []clients.Client
	version uint64

	store    store.Store
	catalogs *catalog.Store
	cache    *search.Cache
	docs     *docs.Store
	importer *importer.Importer
	runs     *importer.RunLog
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New loads the client table, repairing identifiers, and returns the service.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Catalogs == nil {
		return nil, errors.New("crm: store and catalogs are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = search.NewCache(cfg.Logger)
	}
	if cfg.Importer == nil {
		cfg.Importer = importer.New(cfg.Catalogs, cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		store:    cfg.Store,
		catalogs: cfg.Catalogs,
		cache:    cfg.Cache,
		docs:     cfg.Docs,
		importer: cfg.Importer,
		runs:     cfg.Runs,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "crm"),
		now:      cfg.Now,
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory table with the stored one.
func (s *Service) Reload(ctx context.Context) error {
	rows, err := store.LoadRepaired(ctx, s.store, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(rows)
	s.logger.Info("client table loaded", "rows", len(rows))
	return nil
}

// install swaps the table and moves the version token. Caller holds s.mu.
func (s *Service) install(rows []clients.Client) {
	s.rows = rows
	s.version++
	s.metrics.SetClients(len(rows))
}

// commit persists rows, appends entries to the history and installs rows.
// A history write failure is logged; the table change stands. Caller holds s.mu.
func (s *Service) commit(ctx context.Context, rows []clients.Client, entries ...clients.HistoryEntry) error {
	if err := s.store.SaveClients(ctx, rows); err != nil {
		return fmt.Errorf("save clients: %w", err)
	}
	s.install(rows)
	if err := s.store.AppendHistory(ctx, entries...); err != nil {
		s.logger.Warn("append history", "entries", len(entries), "error", err)
	}
	return nil
}

// Clients returns a copy of the table.
func (s *Service) Clients() []clients.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rows)
}

// Version returns the table version token; it changes on every mutation.
func (s *Service) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Client returns the row with identifier id.
func (s *Service) Client(id string) (clients.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := clients.Find(s.rows, id)
	if i < 0 {
		return clients.Client{}, fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	return s.rows[i], nil
}

// NextID returns the identifier the next created client would get.
func (s *Service) NextID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clients.AllocateNextID(clients.IDs(s.rows))
}

// RepairIDs replaces blank and repeated identifiers and returns the changed
// positions. The table is saved only when something changed.
func (s *Service) RepairIDs(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, changed := clients.RepairIDs(s.rows)
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.store.SaveClients(ctx, rows); err != nil {
		return nil, fmt.Errorf("save clients: %w", err)
	}
	s.install(rows)
	s.metrics.ObserveRepairs(len(changed))
	s.logger.Info("client ids repaired", "rows", len(changed))
	return changed, nil
}

// SimilarAdvisors lists known advisors whose names are close to name.
func (s *Service) SimilarAdvisors(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clients.SimilarAdvisors(name, clients.Advisors(s.rows), clients.SimilarAdvisorThreshold)
}

// Create adds a client. A blank ID is allocated; a supplied one is
// sanitized and must be unused. Catalog columns are canonicalized and the
// advisor is matched against existing spellings.
func (s *Service) Create(ctx context.Context, c clients.Client, actor string) (clients.Client, error) {
	c = trimClient(c)
	if c.Nombre == "" {
		return clients.Client{}, fmt.Errorf("%w: nombre is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID != "" {
		c.ID = docs.SafeName(c.ID)
		if clients.Find(s.rows, c.ID) >= 0 {
			return clients.Client{}, fmt.Errorf("%w: client id %q already exists", ErrConflict, c.ID)
		}
	} else {
		c.ID = clients.AllocateNextID(clients.IDs(s.rows))
	}
	s.canonicalizeRow(&c, nil)
	c.Asesor = clients.MatchAdvisor(c.Asesor, clients.Advisors(s.rows))

	rows := append(slices.Clone(s.rows), c)
	entry := clients.NewHistoryEntry(nil, c, clients.ActionCreated, actor, "Creado por "+actorName(actor), s.now())
	if err := s.commit(ctx, rows, entry); err != nil {
		return clients.Client{}, err
	}
	s.logger.Info("client created", "id", c.ID, "actor", actorName(actor))
	return c, nil
}

// Update sets the given columns of client id. The ID column cannot be
// changed and the name cannot be blanked.
func (s *Service) Update(ctx context.Context, id string, fields map[string]string, note, actor string) (clients.Client, error) {
	if len(fields) == 0 {
		return clients.Client{}, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	for col, v := range fields {
		switch {
		case col == "id":
			return clients.Client{}, fmt.Errorf("%w: id cannot be changed", ErrInvalidInput)
		case !slices.Contains(clients.Columns, col):
			return clients.Client{}, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, col)
		case col == "nombre" && strings.TrimSpace(v) == "":
			return clients.Client{}, fmt.Errorf("%w: nombre is required", ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := clients.Find(s.rows, id)
	if i < 0 {
		return clients.Client{}, fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	before := s.rows[i]
	row := before
	for col, v := range fields {
		row.SetField(col, strings.TrimSpace(v))
	}
	s.canonicalizeRow(&row, fields)
	if _, ok := fields["asesor"]; ok {
		others := slices.Delete(slices.Clone(s.rows), i, i+1)
		row.Asesor = clients.MatchAdvisor(row.Asesor, clients.Advisors(others))
	}

	rows := slices.Clone(s.rows)
	rows[i] = row
	entry := clients.NewHistoryEntry(&before, row, clients.ActionStatusChanged, actor, strings.TrimSpace(note), s.now())
	if err := s.commit(ctx, rows, entry); err != nil {
		return clients.Client{}, err
	}
	return row, nil
}

// UpdateStatus sets both status columns of client id.
func (s *Service) UpdateStatus(ctx context.Context, id, estatus, segundo, note, actor string) (clients.Client, error) {
	return s.Update(ctx, id, map[string]string{"estatus": estatus, "segundo_estatus": segundo}, note, actor)
}

// Delete removes client id and its document folders. The name folder stays
// while another client has the same name. With purgeHistory the
// client's previous history is dropped; the deletion itself is recorded.
func (s *Service) Delete(ctx context.Context, id, actor string, purgeHistory bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := clients.Find(s.rows, id)
	if i < 0 {
		return fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	gone := s.rows[i]
	rows := slices.Delete(slices.Clone(s.rows), i, i+1)
	if err := s.store.SaveClients(ctx, rows); err != nil {
		return fmt.Errorf("save clients: %w", err)
	}
	s.install(rows)

	if s.docs != nil {
		shared := slices.ContainsFunc(rows, func(c clients.Client) bool {
			return docs.SafeName(c.Nombre) != "" && docs.SafeName(c.Nombre) == docs.SafeName(gone.Nombre)
		})
		if _, err := s.docs.RemoveAll(docs.Client{ID: gone.ID, Name: gone.Nombre}, shared); err != nil {
			s.logger.Warn("remove client documents", "id", gone.ID, "error", err)
		}
	}
	if purgeHistory {
		if _, err := s.store.DeleteHistory(ctx, gone.ID); err != nil {
			s.logger.Warn("delete history", "id", gone.ID, "error", err)
		}
	}
	entry := clients.NewHistoryEntry(nil, clients.Client{ID: gone.ID, Nombre: gone.Nombre},
		clients.ActionDeleted, actor, "Eliminado por "+actorName(actor), s.now())
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("append history", "error", err)
	}
	s.logger.Info("client deleted", "id", gone.ID, "actor", actorName(actor), "purge_history", purgeHistory)
	return nil
}

// History returns the audit entries of client id, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]clients.HistoryEntry, error) {
	all, err := s.store.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return clients.HistoryFor(all, strings.TrimSpace(id)), nil
}

// AllHistory returns every audit entry, oldest first.
func (s *Service) AllHistory(ctx context.Context) ([]clients.HistoryEntry, error) {
	all, err := s.store.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return all, nil
}

// Search ranks the options of list against query. list is a catalog ID,
// ListAdvisors or ListClients.
func (s *Service) Search(list, query string, limit int) ([]search.Hit, error) {
	key, token, options, err := s.options(list)
	if err != nil {
		return nil, err
	}
	idx := s.cache.Get(key, token, options)
	hits, outcome := search.RankOutcome(query, idx, limit)
	s.metrics.ObserveSearch(list, string(outcome), len(hits))
	return hits, nil
}

// options returns the cache key, version token and options of a list.
func (s *Service) options(list string) (string, uint64, []string, error) {
	switch list {
	case ListAdvisors:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return list, s.version, clients.Advisors(s.rows), nil
	case ListClients:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return list, s.version, clients.Names(s.rows), nil
	}
	snap, err := s.catalogs.Snapshot(list)
	if errors.Is(err, catalog.ErrUnknownCatalog) {
		return "", 0, nil, fmt.Errorf("%w: list %q", ErrNotFound, list)
	}
	if err != nil {
		return "", 0, nil, err
	}
	return "catalog:" + list, snap.Version, snap.Entries, nil
}

// Lists returns every searchable list name.
func (s *Service) Lists() []string {
	return append(s.catalogs.IDs(), ListAdvisors, ListClients)
}

// Canonicalize maps raw onto catalog catalogID.
func (s *Service) Canonicalize(catalogID, raw string) (catalog.Resolution, error) {
	r, err := s.catalogs.Canonicalize(catalogID, raw)
	if errors.Is(err, catalog.ErrUnknownCatalog) {
		return r, fmt.Errorf("%w: catalog %q", ErrNotFound, catalogID)
	}
	if err != nil {
		return r, err
	}
	s.metrics.ObserveCanonicalize(catalogID, string(r.Kind))
	return r, nil
}

// canonicalizeRow maps the catalog columns of c. With only non-nil, just
// the columns present in only are mapped.
func (s *Service) canonicalizeRow(c *clients.Client, only map[string]string) {
	for _, cc := range clients.CatalogColumns {
		if only != nil {
			if _, ok := only[cc.Column]; !ok {
				continue
			}
		}
		if r, err := s.Canonicalize(cc.Catalog, c.Field(cc.Column)); err == nil {
			c.SetField(cc.Column, r.Value)
		}
	}
}

// Catalogs returns a copy of every catalog.
func (s *Service) Catalogs() []*catalog.Snapshot {
	return s.catalogs.Snapshots()
}

// AddCatalogEntries appends values to catalog id, skipping ones already
// present under normalization, and returns those added.
func (s *Service) AddCatalogEntries(id string, values ...string) ([]string, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidInput)
	}
	added, err := s.catalogs.Append(id, values...)
	if errors.Is(err, catalog.ErrUnknownCatalog) {
		return nil, fmt.Errorf("%w: catalog %q", ErrNotFound, id)
	}
	return added, err
}

// RemoveCatalogEntry deletes value from catalog id.
func (s *Service) RemoveCatalogEntry(id, value string) (bool, error) {
	ok, err := s.catalogs.Remove(id, value)
	if errors.Is(err, catalog.ErrUnknownCatalog) {
		return false, fmt.Errorf("%w: catalog %q", ErrNotFound, id)
	}
	return ok, err
}

// ImportRequest is one uploaded table to merge.
type ImportRequest struct {
	// File names the upload; its extension picks the format unless Format is set.
	File    string
	Format  string
	Data    io.Reader
	Read    importer.ReadOptions
	Options importer.Options
}

// Import decodes and merges an uploaded table. New catalog values are
// appended only after the merged rows are saved. A dry run returns the
// result without saving anything. Runs are recorded when a run log is set.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*importer.Result, error) {
	res, format, rows, err := s.importTable(ctx, req)
	if s.runs != nil {
		run := importer.Run{File: req.File, Format: format, Mode: req.Options.Mode, Actor: req.Options.Actor, Rows: rows, At: s.now()}
		if res != nil {
			run.Added, run.Updated, run.Skipped = res.Added, res.Updated, res.Skipped
		}
		if err != nil {
			run.Error = err.Error()
		}
		if !req.Options.DryRun {
			if _, rerr := s.runs.Record(ctx, run); rerr != nil {
				s.logger.Warn("record import run", "error", rerr)
			}
		}
	}
	return res, err
}

func (s *Service) importTable(ctx context.Context, req ImportRequest) (*importer.Result, string, int, error) {
	var (
		f   importer.Format
		err error
	)
	if req.Format != "" {
		f, err = importer.Get(req.Format)
	} else {
		f, err = importer.ForFile(req.File)
	}
	if err != nil {
		return nil, req.Format, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tbl, err := f.Read(req.Data, req.Read)
	if err != nil {
		return nil, f.ID(), 0, fmt.Errorf("%w: read %s: %v", ErrInvalidInput, f.ID(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.importer.Merge(ctx, s.rows, tbl, req.Options)
	if errors.Is(err, importer.ErrUnknownMode) || errors.Is(err, importer.ErrNoColumns) {
		return nil, f.ID(), len(tbl.Rows), fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, f.ID(), len(tbl.Rows), err
	}
	if req.Options.DryRun {
		return res, f.ID(), len(tbl.Rows), nil
	}
	if err := s.commit(ctx, res.Rows, res.History...); err != nil {
		return nil, f.ID(), len(tbl.Rows), err
	}
	if err := s.importer.GrowCatalogs(res); err != nil {
		s.logger.Warn("import saved, catalogs not grown", "error", err)
	}
	s.metrics.ObserveImport(res.Added, res.Updated, res.Skipped)
	s.metrics.ObserveRepairs(len(res.Repaired))
	return res, f.ID(), len(tbl.Rows), nil
}

// ImportRuns returns up to limit recorded imports, newest first.
func (s *Service) ImportRuns(ctx context.Context, limit int) ([]importer.Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.Recent(ctx, limit)
}

// IsDispersed reports whether a status means the credit was disbursed,
// the point from which a contract may be uploaded.
func IsDispersed(estatus string) bool {
	k := catalog.Normalize(estatus)
	return k == "dispersado" || k == "en dispersion"
}

// SaveDocuments stores uploads for client id under category and records
// one history entry for the batch.
func (s *Service) SaveDocuments(ctx context.Context, id, category string, uploads []docs.Upload, actor string) ([]string, error) {
	if s.docs == nil {
		return nil, ErrDocumentsDisabled
	}
	c, err := s.Client(id)
	if err != nil {
		return nil, err
	}
	if category == "contrato" && !IsDispersed(c.Estatus) {
		return nil, fmt.Errorf("%w: contract needs a dispersed client, status is %q", ErrInvalidInput, c.Estatus)
	}
	names, err := s.docs.Save(ctx, docs.Client{ID: c.ID, Name: c.Nombre}, category, uploads)
	if errors.Is(err, docs.ErrUnknownCategory) || errors.Is(err, docs.ErrExtension) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	s.metrics.ObserveDocuments(category, len(names))
	entry := clients.NewHistoryEntry(&c, c, clients.ActionDocuments, actor, "Subidos: "+strings.Join(names, ", "), s.now())
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("append history", "error", err)
	}
	return names, nil
}

// ListDocuments lists the files of client id matching pattern.
func (s *Service) ListDocuments(id, pattern string) ([]docs.File, error) {
	if s.docs == nil {
		return nil, ErrDocumentsDisabled
	}
	c, err := s.Client(id)
	if err != nil {
		return nil, err
	}
	files, err := s.docs.List(docs.Client{ID: c.ID, Name: c.Nombre}, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return files, nil
}

// DocumentPath returns the on-disk path of one file of client id.
func (s *Service) DocumentPath(id, name string) (string, error) {
	if s.docs == nil {
		return "", ErrDocumentsDisabled
	}
	c, err := s.Client(id)
	if err != nil {
		return "", err
	}
	p, err := s.docs.Path(docs.Client{ID: c.ID, Name: c.Nombre}, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: document %q", ErrNotFound, name)
	}
	return p, err
}

// RemoveDocument deletes one file of client id.
func (s *Service) RemoveDocument(ctx context.Context, id, name, actor string) error {
	if s.docs == nil {
		return ErrDocumentsDisabled
	}
	c, err := s.Client(id)
	if err != nil {
		return err
	}
	if err := s.docs.Remove(docs.Client{ID: c.ID, Name: c.Nombre}, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: document %q", ErrNotFound, name)
		}
		return err
	}
	entry := clients.NewHistoryEntry(nil, clients.Client{ID: c.ID, Nombre: c.Nombre},
		clients.ActionDocuments, actor, "Eliminado: "+name, s.now())
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("append history", "error", err)
	}
	return nil
}

func trimClient(c clients.Client) clients.Client {
	for _, col := range clients.Columns {
		c.SetField(col, strings.TrimSpace(c.Field(col)))
	}
	return c
}

func actorName(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return clients.SystemActor
	}
	return actor
}
