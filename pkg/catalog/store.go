package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrUnknownCatalog is returned for catalog IDs absent from the manifest.
var ErrUnknownCatalog = errors.New("unknown catalog")

// versions is shared by every Store so tokens never repeat within a process.
var versions atomic.Uint64

// Snapshot is an immutable copy of a catalog at one version.
type Snapshot struct {
	ID       string   `json:"id"`
	Entries  []string `json:"entries"`
	Version  uint64   `json:"version"`
	MinRatio float64  `json:"min_ratio"`
	Synonyms Synonyms `json:"synonyms,omitempty"`
}

// Canonicalize maps raw onto this snapshot with its own threshold and synonyms.
func (s *Snapshot) Canonicalize(raw string) Resolution {
	return Resolve(raw, s.Entries, s.Synonyms, s.MinRatio)
}

// Contains reports whether value is present verbatim.
func (s *Snapshot) Contains(value string) bool {
	return slices.Contains(s.Entries, value)
}

// Store owns the catalogs declared by a manifest and persists each one as
// a JSON array under dir. Readers get copies; writers replace whole lists.
type Store struct {
	mu       sync.RWMutex
	dir      string
	specs    map[string]Spec
	order    []string
	catalogs map[string]*Snapshot
	logger   *slog.Logger
}

// NewStore creates an empty store; call Load before use.
func NewStore(dir string, m *Manifest, logger *slog.Logger) *Store {
	if m == nil {
		m = DefaultManifest()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:      dir,
		specs:    make(map[string]Spec, len(m.Catalogs)),
		catalogs: make(map[string]*Snapshot, len(m.Catalogs)),
		logger:   logger.With("component", "catalog-store"),
	}
	for _, spec := range m.Catalogs {
		if spec.File == "" {
			spec.File = spec.ID + ".json"
		}
		if spec.MinRatio == 0 {
			spec.MinRatio = DefaultMinRatio
		}
		s.specs[spec.ID] = spec
		s.order = append(s.order, spec.ID)
	}
	return s
}

// Dir returns the directory holding the catalog files.
func (s *Store) Dir() string { return s.dir }

// Load reads every catalog file. A missing file is created with the
// catalog defaults; an unreadable one is left on disk untouched and the
// defaults are used in memory.
func (s *Store) Load() error {
	return s.load(false)
}

// Reload re-reads catalog files from disk (hot reload). Versions only move
// for catalogs whose content changed. A catalog whose file cannot be read
// keeps its current entries, and nothing is written back.
func (s *Store) Reload() error {
	return s.load(true)
}

func (s *Store) load(reload bool) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir %s: %w", s.dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := make(map[string][]string, len(s.specs))
	var failed []error
	for _, id := range s.order {
		spec := s.specs[id]
		entries, err := s.readFile(spec)
		if err == nil {
			loaded[id] = entries
			continue
		}
		if _, ok := s.catalogs[id]; reload && ok {
			s.logger.Error("catalog file unreadable, keeping current entries", "catalog", id, "error", err)
			failed = append(failed, err)
			continue
		}
		entries = clean(spec.Defaults, spec.AllowEmpty)
		if errors.Is(err, os.ErrNotExist) {
			if werr := s.writeFile(spec, entries); werr != nil {
				s.logger.Warn("write catalog defaults", "catalog", id, "error", werr)
			}
		} else {
			s.logger.Warn("catalog file unreadable, using defaults", "catalog", id, "error", err)
		}
		loaded[id] = entries
	}

	for id, entries := range loaded {
		s.swap(id, entries)
	}
	return errors.Join(failed...)
}

// IDs returns catalog IDs in manifest order.
func (s *Store) IDs() []string {
	return slices.Clone(s.order)
}

// Snapshot returns a copy of catalog id.
func (s *Store) Snapshot(id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.catalogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalog, id)
	}
	cp := *snap
	cp.Entries = slices.Clone(snap.Entries)
	return &cp, nil
}

// Snapshots returns a copy of every catalog in manifest order.
func (s *Store) Snapshots() []*Snapshot {
	out := make([]*Snapshot, 0, len(s.order))
	for _, id := range s.order {
		if snap, err := s.Snapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// Canonicalize maps raw onto catalog id using the catalog's threshold and synonyms.
func (s *Store) Canonicalize(id, raw string) (Resolution, error) {
	s.mu.RLock()
	snap, ok := s.catalogs[id]
	s.mu.RUnlock()
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownCatalog, id)
	}
	// Snapshots are never mutated after swap, reading without the lock is safe.
	return snap.Canonicalize(raw), nil
}

// Save replaces catalog id with entries and persists it.
func (s *Store) Save(id string, entries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCatalog, id)
	}
	cleaned := clean(entries, spec.AllowEmpty)
	if err := s.writeFile(spec, cleaned); err != nil {
		return err
	}
	s.swap(id, cleaned)
	return nil
}

// Append adds values not already present under normalization and returns
// the ones actually added.
func (s *Store) Append(id string, values ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalog, id)
	}
	current := s.catalogs[id].Entries
	seen := make(map[string]bool, len(current)+len(values))
	for _, e := range current {
		seen[Normalize(e)] = true
	}

	var added []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := Normalize(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		added = append(added, v)
	}
	if len(added) == 0 {
		return nil, nil
	}

	next := append(slices.Clone(current), added...)
	if err := s.writeFile(spec, next); err != nil {
		return nil, err
	}
	s.swap(id, next)
	s.logger.Info("catalog entries added", "catalog", id, "added", len(added))
	return added, nil
}

// Remove deletes every entry equivalent to value. It reports whether
// anything was removed.
func (s *Store) Remove(id, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownCatalog, id)
	}
	key := Normalize(value)
	current := s.catalogs[id].Entries
	next := slices.DeleteFunc(slices.Clone(current), func(e string) bool {
		return Normalize(e) == key && (e != "" || value == "")
	})
	if len(next) == len(current) {
		return false, nil
	}
	if err := s.writeFile(spec, next); err != nil {
		return false, err
	}
	s.swap(id, next)
	return true, nil
}

// FileNames returns the base names of all catalog files.
func (s *Store) FileNames() []string {
	names := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		names = append(names, spec.File)
	}
	sort.Strings(names)
	return names
}

// swap installs entries for id, bumping the version when content changed.
// Caller holds s.mu.
func (s *Store) swap(id string, entries []string) {
	spec := s.specs[id]
	if prev, ok := s.catalogs[id]; ok && slices.Equal(prev.Entries, entries) {
		return
	}
	s.catalogs[id] = &Snapshot{
		ID:       id,
		Entries:  entries,
		Version:  versions.Add(1),
		MinRatio: spec.MinRatio,
		Synonyms: spec.Synonyms,
	}
}

func (s *Store) readFile(spec Spec) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, spec.File))
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", spec.File, err)
	}
	return clean(raw, spec.AllowEmpty), nil
}

func (s *Store) writeFile(spec Spec, entries []string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog %s: %w", spec.ID, err)
	}
	path := filepath.Join(s.dir, spec.File)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %s: %w", spec.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace catalog %s: %w", spec.ID, err)
	}
	return nil
}

// clean trims entries and drops blanks. With allowEmpty, an exact "" entry
// survives (the "no second status" option) while whitespace-only ones do not.
func clean(entries []string, allowEmpty bool) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		t := strings.TrimSpace(e)
		if t != "" || (allowEmpty && e == "") {
			out = append(out, t)
		}
	}
	return out
}
