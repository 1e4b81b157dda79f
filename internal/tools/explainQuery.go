package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type ExplainQueryInput struct {
	Query string `json:"query" jsonschema:"read-only SQL query to explain"`
}

type ExplainQueryOutput struct {
	Plan string `json:"plan" jsonschema:"query execution plan"`
}

func GetExplainQueryTool(d *Deps) *ToolDefinition[ExplainQueryInput, ExplainQueryOutput] {
	return NewToolDefinition[ExplainQueryInput, ExplainQueryOutput](
		"explain_query",
		fmt.Sprintf("Get the %s execution plan of a read-only query.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input ExplainQueryInput) (*mcp.CallToolResult, ExplainQueryOutput, error) {
			return explainQueryHandler(ctx, req, input, d)
		},
	)
}

func explainQueryHandler(ctx context.Context, req *mcp.CallToolRequest, input ExplainQueryInput, d *Deps) (*mcp.CallToolResult, ExplainQueryOutput, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, ExplainQueryOutput{}, err
	}

	plan, err := db.Explain(ctx, input.Query)
	if err != nil {
		return nil, ExplainQueryOutput{}, fmt.Errorf("failed to explain query: %w", err)
	}

	output := ExplainQueryOutput{Plan: plan}
	res, err := jsonResult(output)
	if err != nil {
		return nil, ExplainQueryOutput{}, err
	}
	return res, output, nil
}
