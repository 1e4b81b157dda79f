package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/logger"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
)

// ToolDefinition represents a complete tool with its metadata and handler
type ToolDefinition[TInput, TOutput any] struct {
	Tool    *mcp.Tool
	Handler func(ctx context.Context, req *mcp.CallToolRequest, input TInput) (*mcp.CallToolResult, TOutput, error)
}

// NewToolDefinition creates a new tool definition with the given name, description and handler
func NewToolDefinition[TInput, TOutput any](
	name, description string,
	handler func(ctx context.Context, req *mcp.CallToolRequest, input TInput) (*mcp.CallToolResult, TOutput, error),
) *ToolDefinition[TInput, TOutput] {
	return &ToolDefinition[TInput, TOutput]{
		Tool: &mcp.Tool{
			Name:        name,
			Description: description,
		},
		Handler: handler,
	}
}

// Register adds this tool to the MCP server under prefix+name. Every call
// is logged with its own id and counted in m when m is not nil.
func (td *ToolDefinition[TInput, TOutput]) Register(s *mcp.Server, prefix string, m *metrics.Metrics) {
	tool := *td.Tool
	tool.Name = prefix + tool.Name
	handler := td.Handler

	mcp.AddTool(s, &tool, func(ctx context.Context, req *mcp.CallToolRequest, input TInput) (*mcp.CallToolResult, TOutput, error) {
		callID := uuid.NewString()
		logger.Debug("tool call started", "tool", tool.Name, "call_id", callID)

		start := time.Now()
		res, out, err := handler(ctx, req, input)
		elapsed := time.Since(start)

		logger.LogToolCall(tool.Name, callID, elapsed, err)
		if m != nil {
			m.ObserveToolCall(tool.Name, elapsed, err)
		}
		return res, out, err
	})
}

// jsonResult renders output as the text content of a tool result.
func jsonResult(output any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal error: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil
}
