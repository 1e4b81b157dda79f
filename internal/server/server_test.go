package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/client"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/state"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Connections = map[string]config.Connection{
		"default": {Name: "default", Type: config.ClickHouse, Host: "localhost", Port: 8123, Description: "local"},
		"pg":      {Name: "pg", Type: config.Postgres, Host: "pg", Port: 5432},
	}
	cfg.DefaultConnection = "default"
	cfg.MCP.MaxRows = 500
	return cfg
}

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	cfg := testConfig()
	m := metrics.New()
	registry := state.NewRegistry(cfg)
	t.Cleanup(func() { registry.Close() })

	srv := NewMCPServer(MCPServerConfig{Version: "test", Config: cfg, Registry: registry, Metrics: m})
	ts := httptest.NewServer(NewHTTPHandler(srv, registry, m))
	t.Cleanup(ts.Close)
	return ts, m
}

func TestInstructions(t *testing.T) {
	text := instructions(testConfig())
	assert.Contains(t, text, "MCP server for ClickHouse")
	assert.Contains(t, text, "- default (clickhouse): local [default]")
	assert.Contains(t, text, "- pg (postgres)\n")
	assert.Contains(t, text, "capped at 500 rows")
	assert.NotContains(t, text, "run_query")
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStreamableHTTPListTools(t *testing.T) {
	ts, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mc := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := mc.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "list_databases")
	assert.Contains(t, names, "run_select_query")
}

func mockOpener(_ context.Context, conn config.Connection) (*client.DBClient, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	mock.ExpectClose()
	return client.NewFromDB(db, conn)
}

func TestDeleteForgetsSessionConnection(t *testing.T) {
	cfg := testConfig()
	registry := state.NewRegistryWithOpener(cfg, mockOpener)
	t.Cleanup(func() { registry.Close() })

	m := metrics.New()
	srv := NewMCPServer(MCPServerConfig{Version: "test", Config: cfg, Registry: registry, Metrics: m})
	ts := httptest.NewServer(NewHTTPHandler(srv, registry, m))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mc := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := mc.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	require.NoError(t, err)
	id := cs.ID()
	require.NotEmpty(t, id)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "switch_connection",
		Arguments: map[string]any{"connection": "pg"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "pg", registry.Active(id))
	assert.Equal(t, "default", registry.Active("another-session"))

	cs.Close()
	assert.Eventually(t, func() bool {
		return registry.Active(id) == "default"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestForgetOnDelete(t *testing.T) {
	registry := state.NewRegistryWithOpener(testConfig(), mockOpener)
	t.Cleanup(func() { registry.Close() })

	ctx := context.Background()
	_, err := registry.Switch(ctx, "session-1", "pg")
	require.NoError(t, err)

	h := forgetOnDelete(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), registry)

	post := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	post.Header.Set("Mcp-Session-Id", "session-1")
	h.ServeHTTP(httptest.NewRecorder(), post)
	assert.Equal(t, "pg", registry.Active("session-1"))

	del := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	del.Header.Set("Mcp-Session-Id", "session-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, del)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "default", registry.Active("session-1"))
}

func TestRunHTTPServerStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunHTTPServer(ctx, addr, http.NotFoundHandler())
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
