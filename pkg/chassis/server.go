// Package chassis serves the CRM over TLS on one port: HTTP/1.1 and HTTP/2
// on TCP, and on UDP a QUIC listener that demuxes by ALPN between HTTP/3
// ("h3") and MCP over QUIC. HTTP responses advertise HTTP/3 via Alt-Svc.
// Without a certificate pair a self-signed development certificate is used.
package chassis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/hazyhaar/onboarding-crm/pkg/mcpquic"
)

// Config wires a Server. MCPServer nil disables MCP over QUIC.
type Config struct {
	Addr      string
	CertFile  string
	KeyFile   string
	Handler   http.Handler
	MCPServer *server.MCPServer
	Logger    *slog.Logger
}

type Server struct {
	addr    string
	logger  *slog.Logger
	tlsCfg  *tls.Config
	handler http.Handler
	mcp     *mcpquic.Handler

	mu   sync.Mutex
	tcp  *http.Server
	h3   *http3.Server
	quic *quic.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "chassis")

	protos := []string{"h3", mcpquic.ALPN}
	var (
		tlsCfg *tls.Config
		err    error
	)
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsCfg, err = mcpquic.LoadTLSConfig(cfg.CertFile, cfg.KeyFile, protos...)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
		logger.Info("TLS certificate loaded", "cert", cfg.CertFile)
	} else {
		tlsCfg, err = mcpquic.SelfSignedTLSConfig(protos...)
		if err != nil {
			return nil, fmt.Errorf("generate dev TLS: %w", err)
		}
		logger.Warn("TLS: self-signed development certificate")
	}

	s := &Server{
		addr:    cfg.Addr,
		logger:  logger,
		tlsCfg:  tlsCfg,
		handler: securityHeaders(altSvc(cfg.Addr, cfg.Handler)),
	}
	if cfg.MCPServer != nil {
		s.mcp = mcpquic.NewHandler(cfg.MCPServer, cfg.Logger)
	}
	return s, nil
}

// securityHeaders sets the standard hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// altSvc advertises HTTP/3 on the port of addr.
func altSvc(addr string, next http.Handler) http.Handler {
	_, port, _ := net.SplitHostPort(addr)
	if port == "" {
		port = "443"
	}
	value := fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		next.ServeHTTP(w, r)
	})
}

// Start listens on TCP and UDP and blocks until ctx ends or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	tcpTLS := s.tlsCfg.Clone()
	tcpTLS.NextProtos = []string{"h2", "http/1.1"}
	s.tcp = &http.Server{Addr: s.addr, Handler: s.handler, TLSConfig: tcpTLS}
	s.h3 = &http3.Server{Handler: s.handler}

	ln, err := quic.ListenAddr(s.addr, s.tlsCfg, mcpquic.QUICConfig())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("QUIC listen: %w", err)
	}
	s.quic = ln
	s.mu.Unlock()

	s.logger.Info("chassis listening", "addr", s.addr, "mcp_quic", s.mcp != nil)

	errCh := make(chan error, 2)
	go func() {
		tcpLn, err := tls.Listen("tcp", s.addr, tcpTLS)
		if err != nil {
			errCh <- fmt.Errorf("TCP listen: %w", err)
			return
		}
		if err := s.tcp.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("TCP: %w", err)
		}
	}()
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
					errCh <- fmt.Errorf("QUIC accept: %w", err)
				}
				return
			}
			s.dispatch(ctx, conn)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// dispatch routes a QUIC connection by its negotiated protocol.
func (s *Server) dispatch(ctx context.Context, conn *quic.Conn) {
	switch alpn := conn.ConnectionState().TLS.NegotiatedProtocol; {
	case alpn == "h3":
		go func() {
			if err := s.h3.ServeQUICConn(conn); err != nil {
				s.logger.Debug("HTTP/3 conn done", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	case alpn == mcpquic.ALPN && s.mcp != nil:
		go s.mcp.ServeConn(ctx, conn)
	default:
		s.logger.Warn("rejected QUIC connection", "alpn", alpn, "remote", conn.RemoteAddr())
		conn.CloseWithError(mcpquic.ConnErrALPN, "unsupported ALPN: "+alpn)
	}
}

// Stop shuts the listeners down, returning the first error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.tcp != nil {
		errs = append(errs, s.tcp.Shutdown(ctx))
	}
	if s.quic != nil {
		errs = append(errs, s.quic.Close())
	}
	if s.h3 != nil {
		errs = append(errs, s.h3.Close())
	}
	s.logger.Info("chassis stopped")
	return errors.Join(errs...)
}
