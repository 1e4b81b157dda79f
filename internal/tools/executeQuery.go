package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/client"
)

type RunQueryInput struct {
	Query string `json:"query" jsonschema:"SQL statement that changes data or schema (INSERT, ALTER, CREATE, etc.)"`
}

type RunQueryOutput struct {
	RowsAffected int64  `json:"rows_affected" jsonschema:"number of rows affected, when the engine reports it"`
	Message      string `json:"message" jsonschema:"success message"`
}

var dangerousOperations = []string{"drop database", "drop schema", "truncate"}

func GetRunQueryTool(d *Deps) *ToolDefinition[RunQueryInput, RunQueryOutput] {
	return NewToolDefinition[RunQueryInput, RunQueryOutput](
		"run_query",
		fmt.Sprintf("Execute a single statement that modifies %s data or schema. "+
			"Use run_select_query for reads.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input RunQueryInput) (*mcp.CallToolResult, RunQueryOutput, error) {
			return runQueryHandler(ctx, req, input, d)
		},
	)
}

func runQueryHandler(ctx context.Context, req *mcp.CallToolRequest, input RunQueryInput, d *Deps) (*mcp.CallToolResult, RunQueryOutput, error) {
	queryLower := strings.ToLower(input.Query)
	for _, dangerous := range dangerousOperations {
		if strings.Contains(queryLower, dangerous) {
			return nil, RunQueryOutput{}, fmt.Errorf("%w: %s", ErrDangerousOperation, dangerous)
		}
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, RunQueryOutput{}, err
	}

	rowsAffected, err := db.Exec(ctx, input.Query)
	if err != nil {
		return nil, RunQueryOutput{}, fmt.Errorf("query execution error: %w", err)
	}

	operation := client.StatementKind(input.Query)
	message := fmt.Sprintf("%s operation completed successfully", operation)
	if rowsAffected > 0 {
		message = fmt.Sprintf("%s operation completed successfully (%d rows affected)", operation, rowsAffected)
	}

	output := RunQueryOutput{
		RowsAffected: rowsAffected,
		Message:      message,
	}
	res, err := jsonResult(output)
	if err != nil {
		return nil, RunQueryOutput{}, err
	}
	return res, output, nil
}
