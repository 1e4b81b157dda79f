package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

type ListDatabasesInput struct{}

type ListDatabasesOutput struct {
	Databases []string `json:"databases" jsonschema:"database names"`
	Count     int      `json:"count" jsonschema:"number of databases"`
}

type ListTablesInput struct {
	Database string `json:"database" jsonschema:"database to list tables from"`
	Like     string `json:"like,omitempty" jsonschema:"optional SQL LIKE pattern on table names"`
}

type ListTablesOutput struct {
	Database string            `json:"database" jsonschema:"database the tables belong to"`
	Tables   []mcpdb.TableInfo `json:"tables" jsonschema:"tables with their columns and CREATE statement"`
	Count    int               `json:"count" jsonschema:"number of tables"`
}

func GetListDatabasesTool(d *Deps) *ToolDefinition[ListDatabasesInput, ListDatabasesOutput] {
	return NewToolDefinition[ListDatabasesInput, ListDatabasesOutput](
		"list_databases",
		fmt.Sprintf("List all databases in the %s server.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input ListDatabasesInput) (*mcp.CallToolResult, ListDatabasesOutput, error) {
			return listDatabasesHandler(ctx, req, input, d)
		},
	)
}

func listDatabasesHandler(ctx context.Context, req *mcp.CallToolRequest, _ ListDatabasesInput, d *Deps) (*mcp.CallToolResult, ListDatabasesOutput, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, ListDatabasesOutput{}, err
	}

	databases, err := db.ListDatabases(ctx)
	if err != nil {
		return nil, ListDatabasesOutput{}, fmt.Errorf("failed to list databases: %w", err)
	}

	output := ListDatabasesOutput{Databases: databases, Count: len(databases)}
	res, err := jsonResult(output)
	if err != nil {
		return nil, ListDatabasesOutput{}, err
	}
	return res, output, nil
}

func GetListTablesTool(d *Deps) *ToolDefinition[ListTablesInput, ListTablesOutput] {
	return NewToolDefinition[ListTablesInput, ListTablesOutput](
		"list_tables",
		fmt.Sprintf("List the tables of a %s database with their columns and CREATE TABLE statements. "+
			"Use like to filter table names with a SQL LIKE pattern.", d.Config.MCP.DBDescription),
		func(ctx context.Context, req *mcp.CallToolRequest, input ListTablesInput) (*mcp.CallToolResult, ListTablesOutput, error) {
			return listTablesHandler(ctx, req, input, d)
		},
	)
}

func listTablesHandler(ctx context.Context, req *mcp.CallToolRequest, input ListTablesInput, d *Deps) (*mcp.CallToolResult, ListTablesOutput, error) {
	database := strings.TrimSpace(input.Database)
	if database == "" {
		return nil, ListTablesOutput{}, fmt.Errorf("%w: database", ErrMissingArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	db, err := d.activeClient(ctx, req)
	if err != nil {
		return nil, ListTablesOutput{}, err
	}

	names, err := db.ListTables(ctx, database, input.Like)
	if err != nil {
		return nil, ListTablesOutput{}, fmt.Errorf("failed to list tables: %w", err)
	}

	tables, err := db.DescribeTables(ctx, database, names, d.Config.MCP.DescribeConcurrency)
	if err != nil {
		return nil, ListTablesOutput{}, err
	}

	output := ListTablesOutput{
		Database: database,
		Tables:   tables,
		Count:    len(tables),
	}
	res, err := jsonResult(output)
	if err != nil {
		return nil, ListTablesOutput{}, err
	}
	return res, output, nil
}
