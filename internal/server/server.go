package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/logger"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/state"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/tools"
)

const (
	ServerName = "mcp-clickhouse"

	shutdownTimeout = 10 * time.Second
)

type MCPServerConfig struct {
	Version  string
	Config   *config.Config
	Registry *state.Registry
	Metrics  *metrics.Metrics

	// KeepAlive pings sessions at this interval and closes the ones that
	// stop answering. Zero disables it.
	KeepAlive time.Duration
}

func NewMCPServer(cfg MCPServerConfig) *mcp.Server {
	impl := &mcp.Implementation{Name: ServerName, Version: cfg.Version}
	server := mcp.NewServer(impl, &mcp.ServerOptions{
		Instructions: instructions(cfg.Config),
		KeepAlive:    cfg.KeepAlive,
	})

	tools.RegisterTools(server, &tools.Deps{
		Config:   cfg.Config,
		Registry: cfg.Registry,
		Metrics:  cfg.Metrics,
	})
	return server
}

// instructions describes the configured databases to the connecting agent.
func instructions(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are connected to an MCP server for %s.\n\n", cfg.MCP.DBDescription)
	b.WriteString("Configured connections:\n")
	for _, name := range cfg.ConnectionNames() {
		conn, _ := cfg.GetConnection(name)
		fmt.Fprintf(&b, "- %s (%s)", name, conn.Type)
		if conn.Description != "" {
			fmt.Fprintf(&b, ": %s", conn.Description)
		}
		if name == cfg.DefaultConnection {
			b.WriteString(" [default]")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse list_databases and list_tables to explore the schema before querying. ")
	b.WriteString("run_select_query only accepts read-only statements.")
	if cfg.MCP.MaxRows > 0 {
		fmt.Fprintf(&b, " Results are capped at %d rows.", cfg.MCP.MaxRows)
	}
	if cfg.MCP.AllowWrite {
		b.WriteString(" run_query executes writes on connections that are not read-only.")
	}
	b.WriteString("\n")
	return b.String()
}

// RunStdioServer serves MCP over stdin/stdout until ctx is cancelled or the
// client disconnects.
func RunStdioServer(ctx context.Context, server *mcp.Server) error {
	logger.Info("MCP server listening on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("mcp stdio server error: %w", err)
	}
	return nil
}

// NewHTTPHandler routes Streamable HTTP MCP traffic to /mcp, Prometheus
// metrics to /metrics and a liveness probe to /healthz.
func NewHTTPHandler(server *mcp.Server, registry *state.Registry, m *metrics.Metrics) http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	r.Handle("/mcp", forgetOnDelete(mcpHandler, registry))
	return r
}

// forgetOnDelete drops the connection state of sessions the client
// terminates with DELETE.
func forgetOnDelete(next http.Handler, registry *state.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Method == http.MethodDelete && registry != nil {
			if id := r.Header.Get("Mcp-Session-Id"); id != "" {
				registry.Forget(id)
			}
		}
	})
}

// RunHTTPServer serves handler on addr until ctx is cancelled.
func RunHTTPServer(ctx context.Context, addr string, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("MCP server listening on http", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mcp http server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("MCP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp http server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
