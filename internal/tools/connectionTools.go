package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/state"
)

type ListConnectionsInput struct{}

type ConnectionInfo struct {
	Name        string `json:"name" jsonschema:"connection name"`
	Type        string `json:"type" jsonschema:"database type (clickhouse, postgres, mysql)"`
	Description string `json:"description,omitempty" jsonschema:"connection description"`
	ReadOnly    bool   `json:"read_only" jsonschema:"whether writes are refused on this connection"`
	Active      bool   `json:"active" jsonschema:"whether this is the connection the session is using"`
}

type ListConnectionsOutput struct {
	Connections       []ConnectionInfo `json:"connections" jsonschema:"available connections"`
	DefaultConnection string           `json:"default_connection" jsonschema:"default connection name"`
}

type SwitchConnectionInput struct {
	Connection string `json:"connection" jsonschema:"name of the connection to switch to"`
}

type SwitchConnectionOutput struct {
	Message    string `json:"message" jsonschema:"success message"`
	Connection string `json:"connection" jsonschema:"active connection name"`
}

type TestConnectionInput struct {
	Connection string `json:"connection,omitempty" jsonschema:"connection to test, the active one when empty"`
}

type TestConnectionOutput struct {
	Success    bool   `json:"success" jsonschema:"whether the connection test succeeded"`
	Message    string `json:"message" jsonschema:"test result message"`
	Connection string `json:"connection" jsonschema:"connection that was tested"`
	LatencyMS  int64  `json:"latency_ms" jsonschema:"ping round trip in milliseconds"`
}

func GetListConnectionsTool(d *Deps) *ToolDefinition[ListConnectionsInput, ListConnectionsOutput] {
	return NewToolDefinition[ListConnectionsInput, ListConnectionsOutput](
		"list_connections",
		"List all named database connections from the config. The active one is marked.",
		func(ctx context.Context, req *mcp.CallToolRequest, input ListConnectionsInput) (*mcp.CallToolResult, ListConnectionsOutput, error) {
			return listConnectionsHandler(ctx, req, input, d)
		},
	)
}

func listConnectionsHandler(_ context.Context, req *mcp.CallToolRequest, _ ListConnectionsInput, d *Deps) (*mcp.CallToolResult, ListConnectionsOutput, error) {
	active := d.Registry.Active(sessionID(req))

	names := d.Config.ConnectionNames()
	connections := make([]ConnectionInfo, 0, len(names))
	for _, name := range names {
		conn, _ := d.Config.GetConnection(name)
		connections = append(connections, ConnectionInfo{
			Name:        name,
			Type:        string(conn.Type),
			Description: conn.Description,
			ReadOnly:    conn.ReadOnly,
			Active:      name == active,
		})
	}

	output := ListConnectionsOutput{
		Connections:       connections,
		DefaultConnection: d.Config.DefaultConnection,
	}
	res, err := jsonResult(output)
	if err != nil {
		return nil, ListConnectionsOutput{}, err
	}
	return res, output, nil
}

func GetSwitchConnectionTool(d *Deps) *ToolDefinition[SwitchConnectionInput, SwitchConnectionOutput] {
	return NewToolDefinition[SwitchConnectionInput, SwitchConnectionOutput](
		"switch_connection",
		"Switch to a different named database connection for the rest of the session.",
		func(ctx context.Context, req *mcp.CallToolRequest, input SwitchConnectionInput) (*mcp.CallToolResult, SwitchConnectionOutput, error) {
			return switchConnectionHandler(ctx, req, input, d)
		},
	)
}

func switchConnectionHandler(ctx context.Context, req *mcp.CallToolRequest, input SwitchConnectionInput, d *Deps) (*mcp.CallToolResult, SwitchConnectionOutput, error) {
	if input.Connection == "" {
		return nil, SwitchConnectionOutput{}, fmt.Errorf("%w: connection", ErrMissingArgument)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if _, err := d.Registry.Switch(ctx, sessionID(req), input.Connection); err != nil {
		return nil, SwitchConnectionOutput{}, err
	}
	if req != nil {
		d.forgetOnClose(req.Session)
	}

	output := SwitchConnectionOutput{
		Message:    fmt.Sprintf("Successfully switched to connection '%s'", input.Connection),
		Connection: input.Connection,
	}
	res, err := jsonResult(output)
	if err != nil {
		return nil, SwitchConnectionOutput{}, err
	}
	return res, output, nil
}

func GetTestConnectionTool(d *Deps) *ToolDefinition[TestConnectionInput, TestConnectionOutput] {
	return NewToolDefinition[TestConnectionInput, TestConnectionOutput](
		"test_connection",
		"Test connectivity to a named database connection, or the active one, before running queries.",
		func(ctx context.Context, req *mcp.CallToolRequest, input TestConnectionInput) (*mcp.CallToolResult, TestConnectionOutput, error) {
			return testConnectionHandler(ctx, req, input, d)
		},
	)
}

// testConnectionHandler reports a failed ping as an unsuccessful test, not
// as a tool error. Only an unknown connection name is an error.
func testConnectionHandler(ctx context.Context, req *mcp.CallToolRequest, input TestConnectionInput, d *Deps) (*mcp.CallToolResult, TestConnectionOutput, error) {
	name := input.Connection
	if name == "" {
		name = d.Registry.Active(sessionID(req))
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	output := TestConnectionOutput{Connection: name}
	latency, err := d.Registry.Test(ctx, name)
	switch {
	case errors.Is(err, state.ErrConnectionNotFound):
		return nil, TestConnectionOutput{}, err
	case err != nil:
		output.Message = fmt.Sprintf("Connection test failed: %v", err)
	default:
		output.Success = true
		output.Message = "Connection test successful"
		output.LatencyMS = latency.Milliseconds()
	}

	res, err := jsonResult(output)
	if err != nil {
		return nil, TestConnectionOutput{}, err
	}
	return res, output, nil
}
