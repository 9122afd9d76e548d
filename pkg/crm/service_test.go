package crm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/docs"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/metrics"
	"github.com/hazyhaar/onboarding-crm/pkg/store"
)

var fixedNow = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   store.Store
	docs    *docs.Store
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, seed ...clients.Client) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewLocal(filepath.Join(dir, "data"), []string{"csv"}, nil)
	require.NoError(t, err)
	if len(seed) > 0 {
		require.NoError(t, st.SaveClients(ctx, seed))
	}
	cats := catalog.NewStore(filepath.Join(dir, "catalogs"), nil, nil)
	require.NoError(t, cats.Load())
	ds, err := docs.NewStore(filepath.Join(dir, "docs"), nil)
	require.NoError(t, err)
	runs, err := importer.OpenRunLog(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	m := metrics.New(prometheus.NewRegistry())

	svc, err := New(ctx, Config{
		Store:    st,
		Catalogs: cats,
		Docs:     ds,
		Runs:     runs,
		Metrics:  m,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, docs: ds, metrics: m}
}

func TestNewRepairsTable(t *testing.T) {
	f := newFixture(t, clients.Client{ID: "C1000", Nombre: "Ana"}, clients.Client{ID: "C1000", Nombre: "Luis"}, clients.Client{Nombre: "Eva"})
	assert.Equal(t, []string{"C1000", "C1001", "C1002"}, clients.IDs(f.svc.Clients()))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Clients))

	stored, err := f.store.LoadClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C1000", "C1001", "C1002"}, clients.IDs(stored))

	changed, err := f.svc.RepairIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, "C1003", f.svc.NextID())

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, clients.Client{ID: "C1000", Nombre: "Ana", Asesor: "María López"})
	ctx := context.Background()
	v0 := f.svc.Version()

	c, err := f.svc.Create(ctx, clients.Client{
		Nombre: "  Luis Peña ", Estatus: "en onboarding", Sucursal: "toxqui", Asesor: "maria lopez",
	}, "ana")
	require.NoError(t, err)
	assert.Equal(t, "C1001", c.ID)
	assert.Equal(t, "Luis Peña", c.Nombre)
	assert.Equal(t, "EN ONBOARDING", c.Estatus)
	assert.Equal(t, "TOXQUI", c.Sucursal)
	assert.Equal(t, "María López", c.Asesor)
	assert.Greater(t, f.svc.Version(), v0)

	got, err := f.svc.Client(" C1001 ")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	hist, err := f.svc.History(ctx, "C1001")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, clients.ActionCreated, hist[0].Action)
	assert.Equal(t, "Creado por ana", hist[0].Observaciones)
	assert.Equal(t, fixedNow.Format(time.RFC3339), hist[0].TS)

	c, err = f.svc.Create(ctx, clients.Client{ID: "X/9", Nombre: "Eva"}, "")
	require.NoError(t, err)
	assert.Equal(t, "X_9", c.ID)

	_, err = f.svc.Create(ctx, clients.Client{ID: "C1000", Nombre: "Otra"}, "")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.svc.Create(ctx, clients.Client{Nombre: "   "}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Len(t, f.svc.Clients(), 3)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, clients.Client{ID: "C1000", Nombre: "Ana", Estatus: "PROPUESTA", Asesor: "Juan"})
	ctx := context.Background()

	c, err := f.svc.UpdateStatus(ctx, "C1000", "dispersado", "rech.edad", "listo", "luis")
	require.NoError(t, err)
	assert.Equal(t, "DISPERSADO", c.Estatus)
	assert.Equal(t, "RECH.EDAD", c.SegundoEstatus)

	hist, err := f.svc.History(ctx, "C1000")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, clients.HistoryEntry{
		ID: "C1000", Nombre: "Ana", EstatusOld: "PROPUESTA", EstatusNew: "DISPERSADO",
		SegundoNew: "RECH.EDAD", Observaciones: "listo", Action: clients.ActionStatusChanged,
		Actor: "luis", TS: fixedNow.Format(time.RFC3339),
	}, hist[0])

	c, err = f.svc.Update(ctx, "C1000", map[string]string{"asesor": " pedro ", "correo": "a@b.mx"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Pedro", c.Asesor, "own previous advisor is not a match source")
	assert.Equal(t, "a@b.mx", c.Correo)

	tests := []struct {
		name   string
		id     string
		fields map[string]string
		want   error
	}{
		{"unknown client", "C9", map[string]string{"correo": "x"}, ErrNotFound},
		{"id change", "C1000", map[string]string{"id": "C2"}, ErrInvalidInput},
		{"unknown column", "C1000", map[string]string{"edad": "3"}, ErrInvalidInput},
		{"blank name", "C1000", map[string]string{"nombre": " "}, ErrInvalidInput},
		{"nothing", "C1000", nil, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, tt.id, tt.fields, "", "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t,
		clients.Client{ID: "C1000", Nombre: "Ana", Estatus: "DISPERSADO"},
		clients.Client{ID: "C1001", Nombre: "Luis"},
	)
	ctx := context.Background()
	_, err := f.svc.SaveDocuments(ctx, "C1000", "otros", []docs.Upload{{Name: "a.pdf", Data: []byte("x")}}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "C1000", "luis", true))
	assert.Equal(t, []string{"C1001"}, clients.IDs(f.svc.Clients()))
	assert.NoDirExists(t, filepath.Join(f.docs.Root(), "Ana"))

	hist, err := f.svc.History(ctx, "C1000")
	require.NoError(t, err)
	require.Len(t, hist, 1, "purged history keeps the deletion record")
	assert.Equal(t, clients.ActionDeleted, hist[0].Action)
	assert.Equal(t, "Eliminado por luis", hist[0].Observaciones)

	assert.ErrorIs(t, f.svc.Delete(ctx, "C1000", "", false), ErrNotFound)
}

func TestDeleteKeepsNamesakeDocuments(t *testing.T) {
	f := newFixture(t,
		clients.Client{ID: "C1000", Nombre: "Juan Perez"},
		clients.Client{ID: "C1001", Nombre: "Juan Perez"},
	)
	ctx := context.Background()
	_, err := f.svc.SaveDocuments(ctx, "C1001", "otros", []docs.Upload{{Name: "ine.pdf", Data: []byte("x")}}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "C1000", "", false))
	files, err := f.svc.ListDocuments("C1001", "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "otros_ine.pdf", files[0].Name)

	require.NoError(t, f.svc.Delete(ctx, "C1001", "", false))
	assert.NoDirExists(t, filepath.Join(f.docs.Root(), "Juan Perez"))
}

func TestSearch(t *testing.T) {
	f := newFixture(t,
		clients.Client{ID: "C1000", Nombre: "Juan Pérez", Asesor: "María López"},
		clients.Client{ID: "C1001", Nombre: "Juanita Ruiz", Asesor: "Pedro Gómez"},
	)

	hits, err := f.svc.Search(catalog.Status, "onboard", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "EN ONBOARDING", hits[0].Option)

	hits, err = f.svc.Search(ListClients, "juan -ruiz", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Juan Pérez", hits[0].Option)

	hits, err = f.svc.Search(ListAdvisors, "", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = f.svc.Create(context.Background(), clients.Client{Nombre: "Zoe", Asesor: "Zacarías"}, "")
	require.NoError(t, err)
	hits, err = f.svc.Search(ListAdvisors, "zaca", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Zacarías", hits[0].Option, "new advisor visible after a mutation")

	_, err = f.svc.Search("nope", "x", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueries.WithLabelValues(ListAdvisors, "all")))
	assert.Contains(t, f.svc.Lists(), ListClients)
}

func TestCatalogOperations(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.Canonicalize(catalog.Status, "en revision")
	require.NoError(t, err)
	assert.Equal(t, catalog.Resolution{Value: "EN REVISIÓN", Kind: catalog.MatchSynonym, Ratio: 1}, r)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Canonicalizations.WithLabelValues(catalog.Status, "synonym")))

	_, err = f.svc.Canonicalize("nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	added, err := f.svc.AddCatalogEntries(catalog.Branches, "CENTRO", "toxqui", " ")
	require.NoError(t, err)
	assert.Equal(t, []string{"CENTRO"}, added)
	_, err = f.svc.AddCatalogEntries(catalog.Branches)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.AddCatalogEntries("nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	hits, err := f.svc.Search(catalog.Branches, "centro", 1)
	require.NoError(t, err)
	assert.Equal(t, "CENTRO", hits[0].Option)

	removed, err := f.svc.RemoveCatalogEntry(catalog.Branches, "centro")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = f.svc.RemoveCatalogEntry("nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, f.svc.Catalogs(), 3)
}

func TestImport(t *testing.T) {
	f := newFixture(t, clients.Client{ID: "C1000", Nombre: "Ana", Telefono: "555"})
	ctx := context.Background()
	csv := "nombre,telefono,estatus\nAna,555,PROPUESTA\nLuis,777,dispersado\n"

	dry, err := f.svc.Import(ctx, ImportRequest{
		File: "alta.csv", Data: strings.NewReader(csv),
		Options: importer.Options{Mode: importer.ModeAppend, DryRun: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dry.Added)
	assert.Len(t, f.svc.Clients(), 1, "dry run keeps the table")

	res, err := f.svc.Import(ctx, ImportRequest{
		File: "alta.csv", Data: strings.NewReader(csv),
		Options: importer.Options{Mode: importer.ModeAppend, Actor: "ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)

	rows := f.svc.Clients()
	require.Len(t, rows, 2)
	assert.Equal(t, clients.Client{ID: "C1001", Nombre: "Luis", Telefono: "777", Estatus: "DISPERSADO"}, rows[1])

	hist, err := f.svc.History(ctx, "C1001")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, importer.NoteCreated, hist[0].Observaciones)

	_, err = f.svc.Import(ctx, ImportRequest{File: "x.pdf", Data: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Import(ctx, ImportRequest{Format: "csv", Data: strings.NewReader("a,b\n1,2\n")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	runs, err := f.svc.ImportRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3, "dry runs are not recorded")
	assert.NotEmpty(t, runs[0].Error)
	assert.Equal(t, 1, runs[2].Added)
	assert.Equal(t, "ana", runs[2].Actor)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImportRows.WithLabelValues("added")))
}

// saveFailing is a store whose client writes always fail.
type saveFailing struct{ store.Store }

func (saveFailing) SaveClients(context.Context, []clients.Client) error {
	return errors.New("disk full")
}

func TestImportGrowsCatalogsAfterSave(t *testing.T) {
	f := newFixture(t, clients.Client{ID: "C1000", Nombre: "Ana"})
	ctx := context.Background()
	csv := "nombre,sucursal\nLuis,PUEBLA CENTRO\n"
	req := func() ImportRequest {
		return ImportRequest{File: "alta.csv", Data: strings.NewReader(csv)}
	}
	branches := func() []string {
		snap, err := f.svc.catalogs.Snapshot(catalog.Branches)
		require.NoError(t, err)
		return snap.Entries
	}

	broken, err := New(ctx, Config{Store: saveFailing{f.store}, Catalogs: f.svc.catalogs})
	require.NoError(t, err)
	_, err = broken.Import(ctx, req())
	require.Error(t, err)
	assert.NotContains(t, branches(), "PUEBLA CENTRO", "failed save leaves the catalogs alone")

	res, err := f.svc.Import(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, []string{"PUEBLA CENTRO"}, res.NewCatalogValues[catalog.Branches])
	assert.Contains(t, branches(), "PUEBLA CENTRO")
}

func TestDocuments(t *testing.T) {
	f := newFixture(t,
		clients.Client{ID: "C1000", Nombre: "Ana", Estatus: "PROPUESTA"},
		clients.Client{ID: "C1001", Nombre: "Luis", Estatus: "En dispersión"},
	)
	ctx := context.Background()
	contract := []docs.Upload{{Name: "firmado.pdf", Data: []byte("c")}}

	_, err := f.svc.SaveDocuments(ctx, "C1000", "contrato", contract, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	names, err := f.svc.SaveDocuments(ctx, "C1001", "contrato", contract, "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"contrato_firmado.pdf"}, names)

	_, err = f.svc.SaveDocuments(ctx, "C1000", "estado_cuenta", []docs.Upload{{Name: "x.exe"}}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SaveDocuments(ctx, "C9", "otros", nil, "")
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := f.svc.ListDocuments("C1001", "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "contrato", files[0].Category)

	p, err := f.svc.DocumentPath("C1001", "contrato_firmado.pdf")
	require.NoError(t, err)
	assert.FileExists(t, p)
	_, err = f.svc.DocumentPath("C1001", "nada.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	hist, err := f.svc.History(ctx, "C1001")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, clients.ActionDocuments, hist[0].Action)
	assert.Equal(t, "Subidos: contrato_firmado.pdf", hist[0].Observaciones)

	require.NoError(t, f.svc.RemoveDocument(ctx, "C1001", "contrato_firmado.pdf", "ana"))
	assert.ErrorIs(t, f.svc.RemoveDocument(ctx, "C1001", "contrato_firmado.pdf", "ana"), ErrNotFound)

	all, err := f.svc.AllHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIsDispersed(t *testing.T) {
	for _, s := range []string{"DISPERSADO", "en dispersión", " En Dispersion "} {
		assert.True(t, IsDispersed(s), s)
	}
	for _, s := range []string{"", "PROPUESTA", "DISPERSADO PARCIAL"} {
		assert.False(t, IsDispersed(s), s)
	}
}

func TestDocumentsDisabled(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewLocal(t.TempDir(), []string{"json"}, nil)
	require.NoError(t, err)
	cats := catalog.NewStore(t.TempDir(), nil, nil)
	require.NoError(t, cats.Load())
	svc, err := New(ctx, Config{Store: st, Catalogs: cats})
	require.NoError(t, err)

	_, err = svc.ListDocuments("C1", "")
	assert.ErrorIs(t, err, ErrDocumentsDisabled)
	runs, err := svc.ImportRuns(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
