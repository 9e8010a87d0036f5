package tracker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/ghostwatch/kit"
)

// RegisterMCP registers the tracker's query tools on an MCP server, so an
// analysis assistant can inspect the session alongside the HTTP API.
func RegisterMCP(srv *mcp.Server, t *Tracker, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	registerSummaryTool(srv, t, logger)
	registerStatusTool(srv, t, logger)
	registerExportTool(srv, t, logger)
	registerUpdateTool(srv, t, logger)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeEmpty(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{Request: struct{}{}}, nil
}

func registerSummaryTool(srv *mcp.Server, t *Tracker, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "ghostwatch_summary",
		Description: "Return the current interest-area summary: labeled visibility intervals with acceptance flags.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		records, err := t.Summary(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": records, "count": len(records)}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decodeEmpty)
}

func registerStatusTool(srv *mcp.Server, t *Tracker, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "ghostwatch_status",
		Description: "Return session health: database connectivity, age of the newest log entry, and the aggregation watermark.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return t.Status(ctx), nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decodeEmpty)
}

type exportReq struct {
	Format string `json:"format"`
}

func registerExportTool(srv *mcp.Server, t *Tracker, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "ghostwatch_export",
		Description: "Recompute the full session and return the interest-area table plus the label-to-text dictionary.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{
				"type":        "string",
				"description": "\"tsv\" returns only the table; anything else returns the full result",
			},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*exportReq)
		res, err := t.Export(ctx)
		if err != nil {
			return nil, err
		}
		if r.Format == "tsv" {
			return map[string]any{"tsv": res.TSV, "records": res.Records}, nil
		}
		return res, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r exportReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decode)
}

func registerUpdateTool(srv *mcp.Server, t *Tracker, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "ghostwatch_update",
		Description: "Advance the interval cache over newly logged events.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return t.UpdateCache(ctx)
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decodeEmpty)
}
