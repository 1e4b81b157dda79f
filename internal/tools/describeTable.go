package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

type DescribeTableInput struct {
	Database string `json:"database" jsonschema:"database (schema on Postgres) holding the table"`
	Table    string `json:"table" jsonschema:"name of the table to describe"`
}

func GetDescribeTableTool(d *Deps) *ToolDefinition[DescribeTableInput, mcpdb.TableInfo] {
	return NewToolDefinition[DescribeTableInput, mcpdb.TableInfo](
		"describe_table",
		fmt.Sprintf("Get the columns and CREATE TABLE statement of a single %s table.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input DescribeTableInput) (*mcp.CallToolResult, mcpdb.TableInfo, error) {
			return describeTableHandler(ctx, req, input, d)
		},
	)
}

func describeTableHandler(ctx context.Context, req *mcp.CallToolRequest, input DescribeTableInput, d *Deps) (*mcp.CallToolResult, mcpdb.TableInfo, error) {
	database, table := strings.TrimSpace(input.Database), strings.TrimSpace(input.Table)
	switch {
	case database == "":
		return nil, mcpdb.TableInfo{}, fmt.Errorf("%w: database", ErrMissingArgument)
	case table == "":
		return nil, mcpdb.TableInfo{}, fmt.Errorf("%w: table", ErrMissingArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, mcpdb.TableInfo{}, err
	}

	info, err := db.DescribeTable(ctx, database, table)
	if err != nil {
		return nil, mcpdb.TableInfo{}, fmt.Errorf("describe %s.%s: %w", database, table, err)
	}

	res, err := jsonResult(info)
	if err != nil {
		return nil, mcpdb.TableInfo{}, err
	}
	return res, *info, nil
}
