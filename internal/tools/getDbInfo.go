package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

type GetDBInfoInput struct{}

type GetDBInfoOutput struct {
	Connection string           `json:"connection" jsonschema:"active connection name"`
	Server     mcpdb.ServerInfo `json:"server" jsonschema:"server details"`
}

func GetDbInfoTool(d *Deps) *ToolDefinition[GetDBInfoInput, GetDBInfoOutput] {
	return NewToolDefinition[GetDBInfoInput, GetDBInfoOutput](
		"get_db_info",
		fmt.Sprintf("Get version, current database and uptime of the active %s connection.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input GetDBInfoInput) (*mcp.CallToolResult, GetDBInfoOutput, error) {
			return getDBInfoHandler(ctx, req, input, d)
		},
	)
}

func getDBInfoHandler(ctx context.Context, req *mcp.CallToolRequest, _ GetDBInfoInput, d *Deps) (*mcp.CallToolResult, GetDBInfoOutput, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, GetDBInfoOutput{}, err
	}

	info, err := db.ServerInfo(ctx)
	if err != nil {
		return nil, GetDBInfoOutput{}, fmt.Errorf("failed to get server info: %w", err)
	}

	output := GetDBInfoOutput{Connection: db.Name(), Server: *info}
	res, err := jsonResult(output)
	if err != nil {
		return nil, GetDBInfoOutput{}, err
	}
	return res, output, nil
}
