package mcpquic

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/onboarding-crm/pkg/kit"
)

// Handler serves MCP sessions on QUIC connections it is handed. The
// chassis hands it connections demuxed by ALPN; Listener owns a socket.
type Handler struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

func NewHandler(srv *server.MCPServer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{mcp: srv, logger: logger.With("component", "mcpquic")}
}

// ServeConn runs one MCP session on the first stream of conn and returns
// when the peer closes it or ctx ends.
func (h *Handler) ServeConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		h.logger.Warn("accept stream", "remote", remote, "error", err)
		conn.CloseWithError(connErrProtocol, "no stream")
		return
	}
	if err := readPreamble(stream); err != nil {
		h.logger.Warn("bad preamble", "remote", remote, "error", err)
		stream.CancelRead(streamErrPreamble)
		stream.CancelWrite(streamErrPreamble)
		conn.CloseWithError(connErrProtocol, "invalid preamble")
		return
	}

	sess := &session{id: "quic-" + uuid.NewString(), out: stream, notifications: make(chan mcp.JSONRPCNotification, 64)}
	if err := h.mcp.RegisterSession(ctx, sess); err != nil {
		h.logger.Error("register session", "session", sess.id, "error", err)
		stream.Close()
		return
	}
	defer h.mcp.UnregisterSession(ctx, sess.id)
	h.logger.Info("mcp session started", "session", sess.id, "remote", remote)

	ctx, cancel := context.WithCancel(kit.WithTransport(ctx, "mcp_quic"))
	defer cancel()
	ctx = h.mcp.WithContext(ctx, sess)
	go sess.forward(ctx)

	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 64<<10), MaxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := h.mcp.HandleMessage(ctx, json.RawMessage(line))
		if resp == nil {
			continue
		}
		if err := sess.send(resp); err != nil {
			h.logger.Warn("write response", "session", sess.id, "error", err)
			break
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		h.logger.Warn("read request", "session", sess.id, "error", err)
	}
	stream.Close()
	h.logger.Info("mcp session ended", "session", sess.id)
}

// Listener owns a QUIC socket that only speaks ALPN.
type Listener struct {
	ln      *quic.Listener
	handler *Handler
	logger  *slog.Logger
}

func NewListener(addr string, tlsCfg *tls.Config, srv *server.MCPServer, logger *slog.Logger) (*Listener, error) {
	h := NewHandler(srv, logger)
	ln, err := quic.ListenAddr(addr, tlsCfg, QUICConfig())
	if err != nil {
		return nil, err
	}
	h.logger.Info("mcp quic listener ready", "addr", ln.Addr().String())
	return &Listener{ln: ln, handler: h, logger: h.logger}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return err
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPN {
			conn.CloseWithError(ConnErrALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.handler.ServeConn(ctx, conn)
	}
}

func (l *Listener) Close() error { return l.ln.Close() }

// session is a server.ClientSession writing to one QUIC stream. Responses
// and notifications share the stream, so writes are serialized.
type session struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool

	mu  sync.Mutex
	out io.Writer
}

func (s *session) SessionID() string                                   { return s.id }
func (s *session) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.notifications }
func (s *session) Initialize()                                         { s.initialized.Store(true) }
func (s *session) Initialized() bool                                   { return s.initialized.Load() }

func (s *session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(append(data, '\n'))
	return err
}

func (s *session) forward(ctx context.Context) {
	for {
		select {
		case n := <-s.notifications:
			_ = s.send(n)
		case <-ctx.Done():
			return
		}
	}
}
