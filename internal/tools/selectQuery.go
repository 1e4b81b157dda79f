package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

type RunSelectQueryInput struct {
	Query string `json:"query" jsonschema:"read-only SQL statement: SELECT, WITH, SHOW, DESCRIBE, EXPLAIN or EXISTS"`
}

func GetRunSelectQueryTool(d *Deps) *ToolDefinition[RunSelectQueryInput, mcpdb.QueryResult] {
	description := fmt.Sprintf("Run a read-only SQL query on %s and return the rows as column to value objects.",
		d.Config.MCP.DBDescription)
	if d.Config.MCP.MaxRows > 0 {
		description += fmt.Sprintf(" At most %d rows are returned; truncated is set when more exist.", d.Config.MCP.MaxRows)
	}
	return NewToolDefinition[RunSelectQueryInput, mcpdb.QueryResult](
		"run_select_query",
		description,
		func(ctx context.Context, req *mcp.CallToolRequest, input RunSelectQueryInput) (*mcp.CallToolResult, mcpdb.QueryResult, error) {
			return runSelectQueryHandler(ctx, req, input, d)
		},
	)
}

func runSelectQueryHandler(ctx context.Context, req *mcp.CallToolRequest, input RunSelectQueryInput, d *Deps) (*mcp.CallToolResult, mcpdb.QueryResult, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, mcpdb.QueryResult{}, err
	}

	result, err := db.Select(ctx, input.Query, d.Config.MCP.MaxRows)
	if err != nil {
		return nil, mcpdb.QueryResult{}, fmt.Errorf("query error: %w", err)
	}

	res, err := jsonResult(result)
	if err != nil {
		return nil, mcpdb.QueryResult{}, err
	}
	return res, *result, nil
}
