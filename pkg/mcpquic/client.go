package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/quic-go/quic-go"
)

// Client speaks MCP to a Listener or chassis over QUIC.
type Client struct {
	addr   string
	tlsCfg *tls.Config
	conn   *quic.Conn
	stream *quic.Stream
	mcp    *client.Client
}

// NewClient returns an unconnected client. A nil tlsCfg skips certificate
// verification, which suits the self-signed development certificate.
func NewClient(addr string, tlsCfg *tls.Config) *Client {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(true)
	}
	return &Client{addr: addr, tlsCfg: tlsCfg}
}

// Connect dials, sends the preamble and performs the MCP handshake as name.
func (c *Client) Connect(ctx context.Context, name, version string) error {
	conn, err := quic.DialAddr(ctx, c.addr, c.tlsCfg, QUICConfig())
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPN {
		conn.CloseWithError(ConnErrALPN, "bad ALPN")
		return fmt.Errorf("%w: got %q", ErrALPN, alpn)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(connErrProtocol, "open stream")
		return fmt.Errorf("open stream: %w", err)
	}
	if err := writePreamble(stream); err != nil {
		stream.Close()
		conn.CloseWithError(connErrProtocol, "preamble")
		return err
	}
	c.conn, c.stream = conn, stream

	mc := client.NewClient(transport.NewIO(stream, stream, io.NopCloser(eofReader{})))
	if err := mc.Start(ctx); err != nil {
		c.hangUp()
		return fmt.Errorf("mcp start: %w", err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: name, Version: version}
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	if _, err := mc.Initialize(hctx, init); err != nil {
		c.hangUp()
		return fmt.Errorf("mcp initialize: %w", err)
	}
	c.mcp = mc
	return nil
}

func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	if c.mcp == nil {
		return nil, ErrNotReady
	}
	return c.mcp.ListTools(ctx, mcp.ListToolsRequest{})
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.mcp == nil {
		return nil, ErrNotReady
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.mcp.CallTool(ctx, req)
}

func (c *Client) Close() error {
	if c.mcp != nil {
		c.mcp.Close()
	}
	c.hangUp()
	return nil
}

func (c *Client) hangUp() {
	if c.stream != nil {
		c.stream.Close()
	}
	if c.conn != nil {
		c.conn.CloseWithError(connErrNone, "client closing")
	}
}

// eofReader stands in for the stderr pipe a subprocess transport would have.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
