package mcpquic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/onboarding-crm/pkg/kit"
)

func TestPreamble(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePreamble(&buf))
	assert.NoError(t, readPreamble(&buf))

	assert.ErrorIs(t, readPreamble(bytes.NewBufferString("MCP1")), ErrPreamble)
	assert.Error(t, readPreamble(bytes.NewBufferString("CR")))
}

func TestSelfSignedTLSConfig(t *testing.T) {
	cfg, err := SelfSignedTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{ALPN}, cfg.NextProtos)
	require.Len(t, cfg.Certificates, 1)

	cfg, err = SelfSignedTLSConfig("h3", ALPN)
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", ALPN}, cfg.NextProtos)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1", nil)
	_, err := c.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.CallTool(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NoError(t, c.Close())
}

func TestRoundTrip(t *testing.T) {
	srv := server.NewMCPServer("crm-test", "0.0.1", server.WithToolCapabilities(false))
	kit.RegisterMCPTool(srv, mcp.NewTool("whoami",
		mcp.WithString("actor", mcp.Description("caller")),
	), func(ctx context.Context, _ any) (any, error) {
		return map[string]string{"transport": kit.GetTransport(ctx), "actor": kit.GetActor(ctx)}, nil
	}, func(mcp.CallToolRequest) (any, error) {
		return nil, nil
	})

	tlsCfg, err := SelfSignedTLSConfig()
	require.NoError(t, err)
	ln, err := NewListener("127.0.0.1:0", tlsCfg, srv, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()

	c := NewClient(ln.Addr().String(), nil)
	require.NoError(t, c.Connect(ctx, "crm-test-client", "0.0.1"))

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "whoami", tools.Tools[0].Name)

	res, err := c.CallTool(ctx, "whoami", map[string]any{"actor": "ana"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"transport":"mcp_quic","actor":"ana"}`, text.Text)

	require.NoError(t, c.Close())
	cancel()
	require.NoError(t, ln.Close())
	assert.NoError(t, <-served)
}
