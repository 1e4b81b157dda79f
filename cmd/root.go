package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/logger"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/server"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/state"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcp-clickhouse",
		Short: "MCP server for ClickHouse",
		Long: `A Model Context Protocol (MCP) server exposing ClickHouse, and also
Postgres and MySQL, to AI clients. Runs over stdio when no subcommand is given.`,
		SilenceUsage: true,
		RunE:         runStdioServer,
	}

	// Global flags (persistent across subcommands)
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default $CONFIG_FILE or "+config.DefaultConfigFile+")")
	flags.String("env-file", ".env", "dotenv file loaded before the config")
	flags.String("connection", "", "connection to start sessions on (overrides default_connection)")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	// Subcommand: stdio (local transport, like IDE integration)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stdio",
		Short: "Run over stdio transport (for local MCP clients)",
		RunE:  runStdioServer,
	})

	// Subcommand: http (Streamable HTTP for remote clients)
	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "Run over Streamable HTTP transport (for remote clients)",
		RunE:  runHTTPServer,
	}
	httpCmd.Flags().String("listen", config.DefaultHTTPListen, "address to listen on")
	rootCmd.AddCommand(httpCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "test-connection [name]",
		Short: "Ping a configured connection and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTestConnection,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServerName, version)
		},
	})

	return rootCmd
}

// loadConfig loads the env file and config named by the persistent flags and
// sets up logging from the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	configPath, _ := cmd.Flags().GetString("config")
	connection, _ := cmd.Flags().GetString("connection")
	logLevel, _ := cmd.Flags().GetString("log-level")

	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if connection != "" {
		if _, ok := cfg.GetConnection(connection); !ok {
			return nil, fmt.Errorf("%w: %q", state.ErrConnectionNotFound, connection)
		}
		cfg.DefaultConnection = connection
	}

	logCfg := cfg.Logging
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if err := logger.Initialize(logger.ConfigFromLoggingConfig(logCfg)); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"path", cfg.Path,
		"connections", len(cfg.Connections),
		"default_connection", cfg.DefaultConnection)
	return cfg, nil
}

type app struct {
	cfg      *config.Config
	registry *state.Registry
	metrics  *metrics.Metrics
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	registry := state.NewRegistry(cfg)
	registry.SetMetrics(m)
	return &app{cfg: cfg, registry: registry, metrics: m}, nil
}

func (rt *app) close() {
	if err := rt.registry.Close(); err != nil {
		logger.Error("failed to close connections", err)
	}
	logger.Shutdown()
}

func (rt *app) mcpServer() server.MCPServerConfig {
	return server.MCPServerConfig{
		Version:  version,
		Config:   rt.cfg,
		Registry: rt.registry,
		Metrics:  rt.metrics,
	}
}

func runStdioServer(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	return server.RunStdioServer(ctx, server.NewMCPServer(rt.mcpServer()))
}

func runHTTPServer(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	listen := rt.cfg.HTTP.Listen
	if cmd.Flags().Changed("listen") || listen == "" {
		listen, _ = cmd.Flags().GetString("listen")
	}

	mcpCfg := rt.mcpServer()
	mcpCfg.KeepAlive = rt.cfg.KeepAlive()
	srv := server.NewMCPServer(mcpCfg)
	return server.RunHTTPServer(ctx, listen, server.NewHTTPHandler(srv, rt.registry, rt.metrics))
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	name := rt.cfg.DefaultConnection
	if len(args) == 1 {
		name = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.QueryTimeout())
	defer cancel()

	latency, err := rt.registry.Test(ctx, name)
	if err != nil {
		return fmt.Errorf("connection %s failed: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connection %s ok (%d ms)\n", name, latency.Milliseconds())
	return nil
}
