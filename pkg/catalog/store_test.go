package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), nil, nil)
	require.NoError(t, s.Load())
	return s
}

func readCatalogFile(t *testing.T, dir, name string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var out []string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestStoreLoadWritesDefaults(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []string{Status, SecondStatus, Branches}, s.IDs())
	for _, spec := range DefaultManifest().Catalogs {
		snap, err := s.Snapshot(spec.ID)
		require.NoError(t, err)
		assert.Equal(t, spec.Defaults, snap.Entries, spec.ID)
		assert.NotZero(t, snap.Version)
		assert.Equal(t, spec.Defaults, readCatalogFile(t, s.Dir(), spec.File))
	}

	second, err := s.Snapshot(SecondStatus)
	require.NoError(t, err)
	assert.Equal(t, "", second.Entries[0], "empty second status must survive")
}

func TestStoreLoadExistingFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`["  UNO ", "", "DOS", "   "]`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sucursales.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "estatus.json"), []byte("{not json"), 0o644))

	s := NewStore(dir, nil, nil)
	require.NoError(t, s.Load())

	br, err := s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, []string{"UNO", "DOS"}, br.Entries)

	st, err := s.Snapshot(Status)
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest().Catalogs[0].Defaults, st.Entries, "corrupt file falls back to defaults")
	raw, err := os.ReadFile(filepath.Join(dir, "estatus.json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw), "corrupt file is left for the user to fix")
}

func TestStoreReloadKeepsEntriesOnBadFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Branches, "PUEBLA CENTRO")
	require.NoError(t, err)
	v := mustVersion(t, s, Branches)

	path := filepath.Join(s.Dir(), "sucursales.json")
	typo := `["TOXQUI","PUEBLA CENTRO","MI SUCURSAL",]`
	require.NoError(t, os.WriteFile(path, []byte(typo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "estatus.json"), []byte(`["NUEVO"]`), 0o644))

	assert.Error(t, s.Reload())
	snap, err := s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, []string{"TOXQUI", "COLOKTE", "KAPITALIZA", "PUEBLA CENTRO"}, snap.Entries)
	assert.Equal(t, v, snap.Version)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, typo, string(raw), "bad file is not overwritten")

	st, err := s.Snapshot(Status)
	require.NoError(t, err)
	assert.Equal(t, []string{"NUEVO"}, st.Entries, "other catalogs still reload")

	require.NoError(t, os.Remove(path))
	assert.Error(t, s.Reload())
	assert.NoFileExists(t, path, "reload never writes defaults")
	assert.Equal(t, v, mustVersion(t, s, Branches))

	require.NoError(t, os.WriteFile(path, []byte(`["TOXQUI","PUEBLA CENTRO","MI SUCURSAL"]`), 0o644))
	require.NoError(t, s.Reload())
	snap, err = s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, []string{"TOXQUI", "PUEBLA CENTRO", "MI SUCURSAL"}, snap.Entries)
}

func TestStoreAppend(t *testing.T) {
	s := newTestStore(t)
	before, err := s.Snapshot(Status)
	require.NoError(t, err)

	added, err := s.Append(Status, "dispersado", "  EN REVISIÓN ", "en revision", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"EN REVISIÓN"}, added)

	after, err := s.Snapshot(Status)
	require.NoError(t, err)
	assert.Greater(t, after.Version, before.Version)
	assert.True(t, after.Contains("EN REVISIÓN"))
	assert.Contains(t, readCatalogFile(t, s.Dir(), "estatus.json"), "EN REVISIÓN")

	added, err = s.Append(Status, "En Revision")
	require.NoError(t, err)
	assert.Empty(t, added)
	again, err := s.Snapshot(Status)
	require.NoError(t, err)
	assert.Equal(t, after.Version, again.Version, "no-op append keeps the version")
}

func TestStoreSaveRemoveReload(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(Branches, []string{" NORTE", "SUR", ""}))
	snap, err := s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, []string{"NORTE", "SUR"}, snap.Entries)

	removed, err := s.Remove(Branches, "norte")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove(Branches, "norte")
	require.NoError(t, err)
	assert.False(t, removed)

	v := mustVersion(t, s, Branches)
	require.NoError(t, s.Reload())
	assert.Equal(t, v, mustVersion(t, s, Branches), "reload of unchanged file keeps the version")

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "sucursales.json"), []byte(`["ESTE"]`), 0o644))
	require.NoError(t, s.Reload())
	snap, err = s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, []string{"ESTE"}, snap.Entries)
	assert.Greater(t, snap.Version, v)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Snapshot(Branches)
	require.NoError(t, err)
	snap.Entries[0] = "MUTATED"

	again, err := s.Snapshot(Branches)
	require.NoError(t, err)
	assert.Equal(t, "TOXQUI", again.Entries[0])
}

func TestStoreCanonicalize(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		catalog, raw, want string
		kind               MatchKind
	}{
		{Status, "revision", "EN REVISIÓN", MatchSynonym},
		{Status, "pendiente  cliente", "PENDIENTE CLIENTE", MatchExact},
		{Status, "PROPUESTAS", "PROPUESTA", MatchFuzzy},
		{Branches, "toxqui", "TOXQUI", MatchExact},
		{Branches, "TOXQUY", "TOXQUY", MatchNone},
		{SecondStatus, "RECH. EDAD", "RECH.EDAD", MatchFuzzy},
	}
	for _, tt := range tests {
		res, err := s.Canonicalize(tt.catalog, tt.raw)
		require.NoError(t, err)
		if res.Value != tt.want || res.Kind != tt.kind {
			t.Errorf("Canonicalize(%s, %q) = %+v, want %q (%s)", tt.catalog, tt.raw, res, tt.want, tt.kind)
		}
	}

	_, err := s.Canonicalize("nope", "x")
	assert.True(t, errors.Is(err, ErrUnknownCatalog))
	_, err = s.Append("nope", "x")
	assert.ErrorIs(t, err, ErrUnknownCatalog)
}

func mustVersion(t *testing.T, s *Store, id string) uint64 {
	t.Helper()
	snap, err := s.Snapshot(id)
	require.NoError(t, err)
	return snap.Version
}
