package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
addr: ":9000"
store:
  kind: local
  formats: [json]
log:
  level: debug
  format: json
watch_debounce: 1s
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "local", cfg.Store.Kind)
	assert.Equal(t, []string{"json"}, cfg.Store.Formats)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Watch)
	// Untouched keys keep their defaults.
	assert.Equal(t, "data/catalogs", cfg.CatalogsDir)
	assert.Equal(t, "data/crm.db", cfg.Store.SQLite)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown kind", "store:\n  kind: mongo\n", "unknown store kind"},
		{"postgres without dsn", "store:\n  kind: postgres\n", "dsn is required"},
		{"cert without key", "tls:\n  cert_file: a.pem\n", "go together"},
		{"bad yaml", "addr: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, logConfig{Level: "warn", Format: "json"})
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{"", ',', false},
		{",", ',', false},
		{";", ';', false},
		{`\t`, '\t', false},
		{"tab", '\t', false},
		{"|", '|', false},
		{";;", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseMapping(t *testing.T) {
	m, err := parseMapping([]string{"nombre=Cliente", " telefono = Tel "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nombre": "Cliente", "telefono": "Tel"}, m)

	m, err = parseMapping(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = parseMapping([]string{"nombre"})
	assert.Error(t, err)
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs([]string{"list=estatus", "limit=5", "dry=true", "id=C1000", "q=inf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"list":  "estatus",
		"limit": float64(5),
		"dry":   true,
		"id":    "C1000",
		"q":     "inf",
	}, args)

	_, err = parseToolArgs([]string{"=x"})
	assert.Error(t, err)
}

// runCLI runs the app against a local-store config rooted in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfg := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"catalogs_dir: " + filepath.Join(dir, "catalogs") + "\n" +
		"docs_dir: " + filepath.Join(dir, "docs") + "\n" +
		"runs_db: " + filepath.Join(dir, "runs.db") + "\n" +
		"store:\n  kind: local\n  formats: [json]\n" +
		"log:\n  level: error\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"onboard", "--config", path}, args...))
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "next-id")
	require.NoError(t, err)
	assert.Equal(t, "C1000\n", out)

	table := filepath.Join(dir, "alta.csv")
	require.NoError(t, os.WriteFile(table, []byte("Nombre;Telefono;Estatus\nAna Pérez;555;propuesta\nLuis;777;en onboarding\n"), 0o644))

	out, err = runCLI(t, dir, "import", "--delimiter", ";", "--dry-run", table)
	require.NoError(t, err)
	assert.Equal(t, "(dry run) added 2, updated 0, skipped 0, repaired ids 0\n", out)

	out, err = runCLI(t, dir, "next-id")
	require.NoError(t, err)
	assert.Equal(t, "C1000\n", out, "dry run saves nothing")

	_, err = runCLI(t, dir, "import", "--delimiter", ";", "--actor", "ana", table)
	require.NoError(t, err)

	out, err = runCLI(t, dir, "next-id")
	require.NoError(t, err)
	assert.Equal(t, "C1002\n", out)

	out, err = runCLI(t, dir, "search", "clientes", "perez")
	require.NoError(t, err)
	assert.Contains(t, out, "Ana Pérez")
	assert.NotContains(t, out, "Luis")

	out, err = runCLI(t, dir, "canonicalize", "--json", "estatus", "dispersdo")
	require.NoError(t, err)
	var res struct {
		Value string `json:"value"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "DISPERSADO", res.Value)
	assert.Equal(t, "fuzzy", res.Kind)

	out, err = runCLI(t, dir, "repair-ids")
	require.NoError(t, err)
	assert.Equal(t, "repaired 0 rows, next id C1002\n", out)

	_, err = runCLI(t, dir, "canonicalize", "estatus")
	assert.Error(t, err)
}
