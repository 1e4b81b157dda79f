package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

type TableStatsInput struct {
	Database string `json:"database" jsonschema:"database (schema on Postgres) holding the table"`
	Table    string `json:"table" jsonschema:"table to report on"`
}

func GetTableStatsTool(d *Deps) *ToolDefinition[TableStatsInput, mcpdb.TableStats] {
	return NewToolDefinition[TableStatsInput, mcpdb.TableStats](
		"table_stats",
		fmt.Sprintf("Get row count and storage size of a %s table.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input TableStatsInput) (*mcp.CallToolResult, mcpdb.TableStats, error) {
			return tableStatsHandler(ctx, req, input, d)
		},
	)
}

func tableStatsHandler(ctx context.Context, req *mcp.CallToolRequest, input TableStatsInput, d *Deps) (*mcp.CallToolResult, mcpdb.TableStats, error) {
	database, table := strings.TrimSpace(input.Database), strings.TrimSpace(input.Table)
	switch {
	case database == "":
		return nil, mcpdb.TableStats{}, fmt.Errorf("%w: database", ErrMissingArgument)
	case table == "":
		return nil, mcpdb.TableStats{}, fmt.Errorf("%w: table", ErrMissingArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, mcpdb.TableStats{}, err
	}

	stats, err := db.TableStats(ctx, database, table)
	if err != nil {
		return nil, mcpdb.TableStats{}, fmt.Errorf("failed to analyze table: %w", err)
	}

	res, err := jsonResult(stats)
	if err != nil {
		return nil, mcpdb.TableStats{}, err
	}
	return res, *stats, nil
}
