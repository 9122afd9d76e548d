package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"José Núñez", "José Núñez"},
		{"  Ana   María  ", "Ana María"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{`a\b:c*d?.pdf`, "a_b_c_d_.pdf"},
		{"..", "_"},
		{".", "_"},
		{"tab\there", "tab_here"},
		{"", ""},
		{"estado_cuenta (1).pdf", "estado_cuenta _1_.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SafeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
			assert.NotContains(t, got, `\`)
		})
	}

	long := SafeName(strings.Repeat("ñ", 400))
	assert.Equal(t, MaxNameRunes, len([]rune(long)))
}

func TestCategoryAllows(t *testing.T) {
	estado, err := CategoryByID("estado_cuenta")
	require.NoError(t, err)
	assert.True(t, estado.Allows("scan.PDF"))
	assert.False(t, estado.Allows("contrato.docx"))
	assert.False(t, estado.Allows("noext"))

	otros, err := CategoryByID("otros")
	require.NoError(t, err)
	assert.True(t, otros.Allows("tabla.xlsx"))

	_, err = CategoryByID("selfie")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "docs"), nil)
	require.NoError(t, err)
	return s
}

func TestFolderMigratesIDFolder(t *testing.T) {
	s := newTestStore(t)
	idDir := filepath.Join(s.Root(), "C1000")
	require.NoError(t, os.MkdirAll(idDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(idDir, "estado_a.pdf"), []byte("x"), 0o644))

	dir, err := s.Folder(Client{ID: "C1000", Name: "Ana Ruiz"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "Ana Ruiz"), dir)
	assert.FileExists(t, filepath.Join(dir, "estado_a.pdf"))
	assert.NoDirExists(t, idDir)

	dir, err = s.Folder(Client{ID: "C1001"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "C1001"), dir)

	_, err = s.Folder(Client{})
	assert.ErrorIs(t, err, ErrNoFolder)
}

func TestSaveAndList(t *testing.T) {
	s := newTestStore(t)
	c := Client{ID: "C1000", Name: "Luis Peña"}
	ctx := context.Background()

	names, err := s.Save(ctx, c, "estado_cuenta", []Upload{
		{Name: "marzo.pdf", Data: []byte("m")},
		{Name: "abril.png", Data: []byte("ab")},
		{Name: "dir/enero (1).jpg", Data: []byte("e")},
		{Name: "feb.pdf", Data: []byte("f")},
		{Name: "jun.pdf", Data: []byte("j")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"estado_abril.png", "estado_enero _1_.jpg", "estado_feb.pdf", "estado_jun.pdf", "estado_marzo.pdf"}, names)

	_, err = s.Save(ctx, c, "otros", []Upload{{Name: "notas.xlsx", Data: []byte("n")}})
	require.NoError(t, err)

	all, err := s.List(c, "")
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, File{Name: "estado_abril.png", Category: "estado_cuenta", Size: 2}, all[0])
	assert.Equal(t, "otros", all[5].Category)

	pdfs, err := s.List(c, "*.pdf")
	require.NoError(t, err)
	assert.Len(t, pdfs, 3)

	_, err = s.List(c, "[")
	assert.Error(t, err)

	none, err := s.List(Client{ID: "C9999"}, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveRejects(t *testing.T) {
	s := newTestStore(t)
	c := Client{ID: "C1000"}
	ctx := context.Background()

	_, err := s.Save(ctx, c, "buro_credito", []Upload{{Name: "ok.pdf"}, {Name: "bad.exe"}})
	assert.ErrorIs(t, err, ErrExtension)
	assert.NoDirExists(t, filepath.Join(s.Root(), "C1000"), "nothing written on rejection")

	_, err = s.Save(ctx, c, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	names, err := s.Save(ctx, c, "otros", nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	c := Client{ID: "C1000", Name: "Eva"}
	_, err := s.Save(context.Background(), c, "contrato", []Upload{{Name: "firmado.docx", Data: []byte("d")}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Remove(c, "../Eva/contrato_firmado.docx"), os.ErrNotExist)
	require.NoError(t, s.Remove(c, "contrato_firmado.docx"))
	assert.ErrorIs(t, s.Remove(c, "contrato_firmado.docx"), os.ErrNotExist)
}

func TestRemoveAll(t *testing.T) {
	s := newTestStore(t)
	c := Client{ID: "C1000", Name: "Eva"}
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "C1000"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "Eva"), 0o755))

	removed, err := s.RemoveAll(c, false)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(s.Root(), "C1000"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "Eva"))

	removed, err = s.RemoveAll(c, false)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveAllKeepsSharedNameFolder(t *testing.T) {
	s := newTestStore(t)
	c := Client{ID: "C1000", Name: "Eva"}
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "C1000"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "Eva"), 0o755))

	removed, err := s.RemoveAll(c, true)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(s.Root(), "C1000"))
	assert.DirExists(t, filepath.Join(s.Root(), "Eva"))
}
