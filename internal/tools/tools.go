package tools

import (
	"context"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/client"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/state"
)

// Deps is what the tool handlers share.
type Deps struct {
	Config   *config.Config
	Registry *state.Registry
	Metrics  *metrics.Metrics

	watched sync.Map // *mcp.ServerSession
}

func RegisterTools(s *mcp.Server, deps *Deps) {
	prefix := deps.Config.MCP.ToolPrefix
	m := deps.Metrics

	// Core tools
	GetListDatabasesTool(deps).Register(s, prefix, m)
	GetListTablesTool(deps).Register(s, prefix, m)
	GetRunSelectQueryTool(deps).Register(s, prefix, m)

	// Schema and server inspection
	GetDescribeTableTool(deps).Register(s, prefix, m)
	GetExplainQueryTool(deps).Register(s, prefix, m)
	GetDbInfoTool(deps).Register(s, prefix, m)
	GetTableStatsTool(deps).Register(s, prefix, m)

	// Run Query Tool (only if writes are allowed)
	if deps.Config.MCP.AllowWrite {
		GetRunQueryTool(deps).Register(s, prefix, m)
	}

	// Connection tools
	GetListConnectionsTool(deps).Register(s, prefix, m)
	GetSwitchConnectionTool(deps).Register(s, prefix, m)
	GetTestConnectionTool(deps).Register(s, prefix, m)
}

func sessionID(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

// activeClient returns the client of the calling session's connection.
func (d *Deps) activeClient(ctx context.Context, req *mcp.CallToolRequest) (*client.DBClient, error) {
	return d.Registry.Client(ctx, sessionID(req))
}

func (d *Deps) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.Config.QueryTimeout())
}

// forgetOnClose drops the session's active connection once the session ends,
// also when the client goes away without a DELETE.
func (d *Deps) forgetOnClose(ss *mcp.ServerSession) {
	if ss == nil {
		return
	}
	if _, loaded := d.watched.LoadOrStore(ss, struct{}{}); loaded {
		return
	}
	go func() {
		_ = ss.Wait()
		d.Registry.Forget(ss.ID())
		d.watched.Delete(ss)
	}()
}
