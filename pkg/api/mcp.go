package api

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/onboarding-crm/pkg/kit"
)

// RegisterMCPTools registers the CRM MCP tools on the server. observe,
// when non-nil, records every tool call.
func RegisterMCPTools(srv *server.MCPServer, ep Endpoints, observe kit.Observer) {
	instrument := func(name string, e kit.Endpoint) kit.Endpoint {
		if observe == nil {
			return e
		}
		return kit.Instrument(observe, name)(e)
	}

	kit.RegisterMCPTool(srv, mcp.NewTool("search_list",
		mcp.WithDescription("Rank the options of a list (a catalog such as estatus or sucursales, or asesores / clientes) against a free-text query. Tokens are ANDed; '|' separates alternatives."),
		mcp.WithString("list", mcp.Required(), mcp.Description("List to search (see list_catalogs)")),
		mcp.WithString("query", mcp.Description("Free-text query; blank returns every option")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results, 0 for all")),
	), instrument("search_list", ep.Search), func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		list, _ := args["list"].(string)
		if list == "" {
			return nil, fmt.Errorf("list is required")
		}
		query, _ := args["query"].(string)
		limit, _ := args["limit"].(float64)
		return &SearchRequest{List: list, Query: query, Limit: int(limit)}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("canonicalize",
		mcp.WithDescription("Map free text onto the canonical entry of a catalog (exact, synonym or fuzzy match); unmatched text is returned trimmed."),
		mcp.WithString("catalog", mcp.Required(), mcp.Description("Catalog ID, e.g. estatus, segundo_estatus, sucursales")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Text to canonicalize")),
	), instrument("canonicalize", ep.Canonicalize), func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		cat, _ := args["catalog"].(string)
		value, _ := args["value"].(string)
		return &CanonicalizeRequest{Catalog: cat, Value: value}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("next_client_id",
		mcp.WithDescription("Return the identifier the next created client would receive."),
	), instrument("next_client_id", ep.NextID), noArgs)

	kit.RegisterMCPTool(srv, mcp.NewTool("list_catalogs",
		mcp.WithDescription("List every catalog with its entries and the names of all searchable lists."),
	), instrument("list_catalogs", ep.Catalogs), noArgs)

	kit.RegisterMCPTool(srv, mcp.NewTool("get_client",
		mcp.WithDescription("Return one client row by identifier."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Client identifier, e.g. C1000")),
	), instrument("get_client", ep.Client), clientArgs)

	kit.RegisterMCPTool(srv, mcp.NewTool("client_history",
		mcp.WithDescription("Return the audit history of a client, oldest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Client identifier")),
	), instrument("client_history", ep.History), clientArgs)

	kit.RegisterMCPTool(srv, mcp.NewTool("similar_advisors",
		mcp.WithDescription("List known advisor spellings close to a name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Advisor name")),
	), instrument("similar_advisors", ep.SimilarAdvisors), func(req mcp.CallToolRequest) (any, error) {
		name, _ := req.GetArguments()["name"].(string)
		return &AdvisorsRequest{Name: name}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("repair_client_ids",
		mcp.WithDescription("Replace blank and duplicated client identifiers with fresh ones and save the table."),
		mcp.WithString("actor", mcp.Description("Who is asking")),
	), instrument("repair_client_ids", ep.RepairIDs), noArgs)

	kit.RegisterMCPTool(srv, mcp.NewTool("update_client_status",
		mcp.WithDescription("Set the status columns of a client and record the change in its history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Client identifier")),
		mcp.WithString("estatus", mcp.Required(), mcp.Description("New status, canonicalized against the estatus catalog")),
		mcp.WithString("segundo_estatus", mcp.Description("New second status")),
		mcp.WithString("note", mcp.Description("Observation stored with the history entry")),
		mcp.WithString("actor", mcp.Description("Who makes the change")),
	), instrument("update_client_status", ep.UpdateClient), func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		id, _ := args["id"].(string)
		estatus, _ := args["estatus"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("id is required")
		}
		fields := map[string]string{"estatus": estatus}
		if seg, ok := args["segundo_estatus"].(string); ok {
			fields["segundo_estatus"] = seg
		}
		note, _ := args["note"].(string)
		return &UpdateRequest{ID: id, Fields: fields, Note: note}, nil
	})
}

func noArgs(_ mcp.CallToolRequest) (any, error) {
	return nil, nil
}

func clientArgs(req mcp.CallToolRequest) (any, error) {
	id, _ := req.GetArguments()["id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("id is required")
	}
	return &ClientRequest{ID: id}, nil
}

// NewMCPServer returns an MCP server exposing the CRM tools.
func NewMCPServer(name, version string, ep Endpoints, observe kit.Observer) *server.MCPServer {
	srv := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	RegisterMCPTools(srv, ep, observe)
	return srv
}
