package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/store"
)

type config struct {
	Addr        string        `yaml:"addr"`
	DataDir     string        `yaml:"data_dir"`
	CatalogsDir string        `yaml:"catalogs_dir"`
	Manifest    string        `yaml:"manifest"`
	DocsDir     string        `yaml:"docs_dir"`
	RunsDB      string        `yaml:"runs_db"`
	Store       storeConfig   `yaml:"store"`
	Log         logConfig     `yaml:"log"`
	TLS         tlsConfig     `yaml:"tls"`
	Watch       time.Duration `yaml:"watch_debounce"`
}

type storeConfig struct {
	// Kind is sqlite, postgres, local or fallback. Fallback reads sqlite
	// first and degrades to the local files.
	Kind     string               `yaml:"kind"`
	SQLite   string               `yaml:"sqlite"`
	Postgres store.PostgresConfig `yaml:"postgres"`
	Formats  []string             `yaml:"formats"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type tlsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// MCP also accepts MCP sessions over QUIC on the same port.
	MCP bool `yaml:"mcp"`
	// MCPAddr runs a separate MCP/QUIC listener, for plain HTTP setups.
	MCPAddr string `yaml:"mcp_addr"`
}

func defaultConfig() config {
	return config{
		Addr:        ":8420",
		DataDir:     "data",
		CatalogsDir: "data/catalogs",
		DocsDir:     "data/clientes",
		RunsDB:      "data/imports.db",
		Store: storeConfig{
			Kind:    "sqlite",
			SQLite:  "data/crm.db",
			Formats: []string{"xlsx", "csv", "json"},
		},
		Log:   logConfig{Level: "info", Format: "text"},
		Watch: 200 * time.Millisecond,
	}
}

// loadConfig reads path over the defaults. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Store.Kind {
	case "sqlite", "local", "fallback":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" || c.TLS.CertFile == "" && c.TLS.KeyFile != "" {
		return errors.New("tls.cert_file and tls.key_file go together")
	}
	return nil
}

func setupLogger(w io.Writer, cfg logConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(ctx context.Context, cfg config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Kind {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Store.Postgres)
	case "local":
		return store.NewLocal(cfg.DataDir, cfg.Store.Formats, logger)
	case "fallback":
		primary, err := openSQLite(ctx, cfg.Store.SQLite)
		if err != nil {
			return nil, err
		}
		local, err := store.NewLocal(cfg.DataDir, cfg.Store.Formats, logger)
		if err != nil {
			primary.Close()
			return nil, err
		}
		return &store.Fallback{Primary: primary, Secondary: local, Logger: logger}, nil
	default:
		return openSQLite(ctx, cfg.Store.SQLite)
	}
}

func openSQLite(ctx context.Context, path string) (store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return store.OpenSQLite(ctx, path)
}

func loadCatalogs(cfg config, logger *slog.Logger) (*catalog.Store, error) {
	var m *catalog.Manifest
	if cfg.Manifest != "" {
		var err error
		if m, err = catalog.LoadManifest(cfg.Manifest); err != nil {
			return nil, err
		}
	}
	cats := catalog.NewStore(cfg.CatalogsDir, m, logger)
	if err := cats.Load(); err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	return cats, nil
}
