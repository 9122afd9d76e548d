package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/onboarding-crm/pkg/api"
	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/chassis"
	"github.com/hazyhaar/onboarding-crm/pkg/mcpquic"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API (and HTTP/3 plus MCP over QUIC when TLS is enabled)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides config)"},
			&cli.BoolFlag{Name: "no-watch", Usage: "Do not reload catalogs when their files change"},
		},
		Action: withEnv(envOptions{withMetrics: true}, runServe),
	}
}

func runServe(c *cli.Context, e *env) error {
	if addr := c.String("addr"); addr != "" {
		e.cfg.Addr = addr
	}
	logger := e.logger

	// SIGINT/SIGTERM: graceful shutdown. SIGHUP: reload catalogs and clients.
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				logger.Info("SIGHUP received, reloading")
				reload(ctx, e)
			}
		}
	}()

	if !c.Bool("no-watch") {
		w, err := catalog.NewWatcher(e.catalogs, e.cfg.Watch, e.metrics.ObserveReload)
		if err != nil {
			logger.Warn("catalog watcher disabled", "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	handler := api.NewRouter(api.RouterConfig{
		Service:  e.svc,
		Logger:   logger,
		Metrics:  e.metrics,
		Gatherer: e.registry,
	})

	if e.cfg.TLS.Enabled {
		return serveTLS(ctx, e, handler)
	}
	if e.cfg.TLS.MCPAddr != "" {
		ln, err := listenMCP(e)
		if err != nil {
			return err
		}
		defer ln.Close()
		go func() {
			if err := ln.Serve(ctx); err != nil {
				logger.Error("MCP/QUIC listener stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{Addr: e.cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("onboard listening", "addr", e.cfg.Addr, "store", e.cfg.Store.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func serveTLS(ctx context.Context, e *env, handler http.Handler) error {
	cfg := chassis.Config{
		Addr:     e.cfg.Addr,
		CertFile: e.cfg.TLS.CertFile,
		KeyFile:  e.cfg.TLS.KeyFile,
		Handler:  handler,
		Logger:   e.logger,
	}
	if e.cfg.TLS.MCP {
		cfg.MCPServer = api.NewMCPServer("onboard", Version, e.endpoints("mcp_quic"), e.metrics.ObserveRequest)
	}
	srv, err := chassis.New(cfg)
	if err != nil {
		return err
	}
	err = srv.Start(ctx)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Stop(sctx))
}

func listenMCP(e *env) (*mcpquic.Listener, error) {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if e.cfg.TLS.CertFile != "" {
		tlsCfg, err = mcpquic.LoadTLSConfig(e.cfg.TLS.CertFile, e.cfg.TLS.KeyFile, mcpquic.ALPN)
	} else {
		tlsCfg, err = mcpquic.SelfSignedTLSConfig(mcpquic.ALPN)
	}
	if err != nil {
		return nil, err
	}
	srv := api.NewMCPServer("onboard", Version, e.endpoints("mcp_quic"), e.metrics.ObserveRequest)
	return mcpquic.NewListener(e.cfg.TLS.MCPAddr, tlsCfg, srv, e.logger)
}

func reload(ctx context.Context, e *env) {
	if err := e.catalogs.Reload(); err != nil {
		e.logger.Error("catalog reload failed", "error", err)
	} else {
		e.metrics.ObserveReload()
	}
	if err := e.svc.Reload(ctx); err != nil {
		e.logger.Error("client reload failed", "error", err)
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the CRM tools over MCP on stdin/stdout",
		Action: withEnv(envOptions{}, func(_ *cli.Context, e *env) error {
			srv := api.NewMCPServer("onboard", Version, e.endpoints("mcp"), nil)
			return server.ServeStdio(srv)
		}),
	}
}
