package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"pkdindustries/sonarshack/internal/config"
	"pkdindustries/sonarshack/internal/llm"
	"pkdindustries/sonarshack/internal/tools"
)

const Version = "0.1.0"

// Run wires the tool registry to an MCP server on stdio and serves until the
// transport closes or ctx is cancelled. Stdin and stdout belong to the
// protocol from here on; everything diagnostic goes through log.
func Run(ctx context.Context, cfg *config.Configuration, log *slog.Logger) error {
	client := llm.NewClient(cfg.API, log)
	registry := tools.NewRegistry(cfg, client, log)

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "sonarshack",
		Version: Version,
	}, nil)

	// Tools are registered on the low-level surface so the SDK hands the
	// handler raw arguments instead of rejecting them against the schema
	// first; the dispatcher owns validation and its recovered error texts.
	for _, tool := range registry.Tools() {
		name := tool.Name
		srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return registry.Invoke(ctx, name, decodeArgs(req.Params.Arguments)), nil
		})
	}

	log.Info("sonarshack MCP server running on stdio", "version", Version)
	defer log.Info("sonarshack MCP server stopped")

	return srv.Run(ctx, &mcp.StdioTransport{})
}

// decodeArgs unwraps a call's argument payload into the map the dispatcher
// expects. Anything absent or undecodable comes back nil, which the
// dispatcher reports as a missing-arguments error.
func decodeArgs(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		return a
	case json.RawMessage:
		var args map[string]any
		if err := json.Unmarshal(a, &args); err != nil {
			return nil
		}
		return args
	}
	return nil
}
