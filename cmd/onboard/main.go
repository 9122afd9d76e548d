package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/onboarding-crm/pkg/api"
	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/crm"
	"github.com/hazyhaar/onboarding-crm/pkg/docs"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/kit"
	"github.com/hazyhaar/onboarding-crm/pkg/metrics"
	"github.com/hazyhaar/onboarding-crm/pkg/search"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "onboard:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "onboard",
		Usage:   "Client onboarding CRM: catalogs, robust search and client identifiers",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   "config.yaml",
				EnvVars: []string{"ONBOARD_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			nextIDCommand(),
			repairIDsCommand(),
			searchCommand(),
			canonicalizeCommand(),
			importCommand(),
			remoteCommand(),
		},
	}
}

// env is the wired service shared by every command.
type env struct {
	cfg      config
	logger   *slog.Logger
	svc      *crm.Service
	catalogs *catalog.Store
	cache    *search.Cache
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []func() error
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// endpoints returns the transport endpoints, tagged with transport.
func (e *env) endpoints(transport string) api.Endpoints {
	return api.NewEndpoints(e.svc, e.logger, func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if _, ok := ctx.Value(kit.TransportKey).(string); !ok {
				ctx = kit.WithTransport(ctx, transport)
			}
			return next(ctx, req)
		}
	})
}

type envOptions struct {
	// withMetrics registers the collectors on a fresh registry.
	withMetrics bool
}

func openEnv(c *cli.Context, opts envOptions) (*env, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := setupLogger(os.Stderr, cfg.Log)
	e := &env{cfg: cfg, logger: logger, cache: search.NewCache(logger)}

	if opts.withMetrics {
		e.registry = prometheus.NewRegistry()
		e.metrics = metrics.New(e.registry)
		metrics.RegisterCache(e.registry, e.cache)
	}

	if e.catalogs, err = loadCatalogs(cfg, logger); err != nil {
		return nil, err
	}

	st, err := openStore(c.Context, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	e.closers = append(e.closers, st.Close)

	svcCfg := crm.Config{
		Store:    st,
		Catalogs: e.catalogs,
		Cache:    e.cache,
		Metrics:  e.metrics,
		Logger:   logger,
	}
	if cfg.DocsDir != "" {
		if svcCfg.Docs, err = docs.NewStore(cfg.DocsDir, logger); err != nil {
			e.Close()
			return nil, err
		}
	}
	if cfg.RunsDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.RunsDB), 0o755); err != nil {
			e.Close()
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
		runs, err := importer.OpenRunLog(cfg.RunsDB)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, runs.Close)
		svcCfg.Runs = runs
	}

	if e.svc, err = crm.New(c.Context, svcCfg); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// withEnv opens the environment around fn.
func withEnv(opts envOptions, fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := openEnv(c, opts)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := e.Close(); cerr != nil {
				e.logger.Warn("close", "error", cerr)
			}
		}()
		return fn(c, e)
	}
}
