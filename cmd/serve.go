package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Track sessions and expose the roster as MCP tools",
	Long: `Run the tracker and start a Model Context Protocol (MCP) server that exposes
the roster as tools: list and focus sessions, set labels and categories,
manage groups, and answer conflict prompts.

Supported transports:
  stdio             Standard I/O (default, for MCP clients)
  streamable-http   Streamable HTTP transport (for remote agents)

Examples:
  support-roster serve
  support-roster serve --transport streamable-http --port 8080
  support-roster serve --cache-ttl 0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("transport", "stdio", "Transport: stdio, streamable-http")
	serveCmd.Flags().Int("port", 8080, "HTTP port for streamable-http transport")
	serveCmd.Flags().Int("cache-ttl", 500, "Raw window listing cache TTL in milliseconds (0 to disable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	cacheTTLMs, _ := cmd.Flags().GetInt("cache-ttl")

	cfg := server.Config{
		Transport: transport,
		Port:      port,
		CacheTTL:  time.Duration(cacheTTLMs) * time.Millisecond,
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to open roster: %w", err)
	}
	defer a.Close()
	a.watchConfig()

	a.runEngine()

	srv := server.New(a.router, a.source, cfg, logger.WithComponent("mcp"))
	return srv.Serve(ctx, cfg)
}
