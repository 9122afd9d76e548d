package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDecoder turns tool arguments into the endpoint request.
type MCPDecoder func(mcp.CallToolRequest) (any, error)

// RegisterMCPTool exposes endpoint as an MCP tool. Decode failures and
// endpoint errors come back as tool errors, successes as JSON text.
// An "actor" string argument is carried on the context. Transport is "mcp"
// unless the session already tagged the context.
func RegisterMCPTool(srv *server.MCPServer, tool mcp.Tool, endpoint Endpoint, decode MCPDecoder) {
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := decode(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if _, ok := ctx.Value(TransportKey).(string); !ok {
			ctx = WithTransport(ctx, "mcp")
		}
		if actor, _ := req.GetArguments()["actor"].(string); actor != "" {
			ctx = WithActor(ctx, actor)
		}

		resp, err := endpoint(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode %s result: %v", tool.Name, err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
