// Package server exposes the roster as Model Context Protocol tools so an
// agent can list, focus and organise support sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/platform"
	"github.com/mj1618/support-roster/internal/roster"
	"github.com/mj1618/support-roster/internal/version"
)

// Config holds MCP server configuration.
type Config struct {
	Transport string
	Port      int
	CacheTTL  time.Duration
}

// Server wraps the MCP server with the roster router and a window cache.
type Server struct {
	router *roster.Router
	cache  *SnapshotCache
	log    zerolog.Logger
	mcp    *mcpserver.MCPServer
}

// New creates and configures an MCP server with all roster tools. source may
// be nil, in which case list_windows reports an error.
func New(router *roster.Router, source platform.SnapshotSource, cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		router: router,
		log:    log,
		mcp:    mcpserver.NewMCPServer("support-roster", version.Version),
	}
	if source != nil {
		s.cache = NewSnapshotCache(source, cfg.CacheTTL)
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server, for in-process clients.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

// Serve runs the configured transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, cfg Config) error {
	switch cfg.Transport {
	case "", "stdio":
		s.log.Info().Msg("serving MCP on stdio")
		return mcpserver.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case "streamable-http":
		addr := fmt.Sprintf(":%d", cfg.Port)
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcp)
		errc := make(chan error, 1)
		go func() { errc <- httpServer.Start(addr) }()
		s.log.Info().Str("addr", addr).Msg("serving MCP over streamable HTTP")

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	default:
		return fmt.Errorf("unsupported transport: %s (use stdio or streamable-http)", cfg.Transport)
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("list_endpoints",
			mcp.WithDescription("List tracked remote-support sessions with status, group, category and label"),
			mcp.WithString("status", mcp.Description("Filter by status: connected, reconnected, disconnected, live")),
			mcp.WithString("group", mcp.Description("Filter by group id or name")),
			mcp.WithString("category", mcp.Description("Filter by category: urgent, in_progress, waiting, done")),
		),
		s.handleListEndpoints,
	)

	s.mcp.AddTool(
		mcp.NewTool("list_windows",
			mcp.WithDescription("List raw top-level windows as seen by the snapshot source"),
			mcp.WithString("process", mcp.Description("Filter by process image name substring")),
			mcp.WithString("title", mcp.Description("Filter by window title substring")),
			mcp.WithNumber("pid", mcp.Description("Filter by process ID")),
			mcp.WithBoolean("visible", mcp.Description("Only visible windows")),
		),
		s.handleListWindows,
	)

	s.mcp.AddTool(
		mcp.NewTool("focus",
			mcp.WithDescription("Restore and bring a session's window to the foreground"),
			mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint id, id prefix, stable key or display name")),
		),
		s.handleFocus,
	)

	s.mcp.AddTool(
		mcp.NewTool("set_label",
			mcp.WithDescription("Set or clear a session's custom label"),
			mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint reference")),
			mcp.WithString("label", mcp.Description("New label (empty clears)")),
		),
		s.handleSetLabel,
	)

	s.mcp.AddTool(
		mcp.NewTool("set_category",
			mcp.WithDescription("Set or clear a session's category"),
			mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint reference")),
			mcp.WithString("category", mcp.Description("urgent, in_progress, waiting, done (empty clears)")),
		),
		s.handleSetCategory,
	)

	s.mcp.AddTool(
		mcp.NewTool("assign_group",
			mcp.WithDescription("Move a session into a group, or out of any group"),
			mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint reference")),
			mcp.WithString("group", mcp.Description("Group id or name (empty removes from group)")),
		),
		s.handleAssignGroup,
	)

	s.mcp.AddTool(
		mcp.NewTool("remove_endpoint",
			mcp.WithDescription("Remove a session from the roster. Its label, group and category are kept for when it returns."),
			mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint reference")),
		),
		s.handleRemove,
	)

	s.mcp.AddTool(
		mcp.NewTool("list_groups",
			mcp.WithDescription("List groups and their members"),
		),
		s.handleListGroups,
	)

	s.mcp.AddTool(
		mcp.NewTool("create_group",
			mcp.WithDescription("Create a group"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Group name (unique, at most 50 characters)")),
			mcp.WithString("color", mcp.Description("Display color, e.g. #3b82f6")),
		),
		s.handleCreateGroup,
	)

	s.mcp.AddTool(
		mcp.NewTool("rename_group",
			mcp.WithDescription("Rename a group"),
			mcp.WithString("group", mcp.Required(), mcp.Description("Group id or name")),
			mcp.WithString("name", mcp.Required(), mcp.Description("New name")),
		),
		s.handleRenameGroup,
	)

	s.mcp.AddTool(
		mcp.NewTool("delete_group",
			mcp.WithDescription("Delete a group. Fails on a non-empty group unless force is set."),
			mcp.WithString("group", mcp.Required(), mcp.Description("Group id or name")),
			mcp.WithBoolean("force", mcp.Description("Delete even when the group has members")),
		),
		s.handleDeleteGroup,
	)

	s.mcp.AddTool(
		mcp.NewTool("list_conflicts",
			mcp.WithDescription("List conflict decisions waiting for an answer, the presented one first"),
		),
		s.handleListConflicts,
	)

	s.mcp.AddTool(
		mcp.NewTool("answer_conflict",
			mcp.WithDescription("Answer a pending conflict: keep (optionally keep:<endpoint-id>), update, or new"),
			mcp.WithString("ticket", mcp.Description("Ticket id (default: the presented ticket)")),
			mcp.WithString("choice", mcp.Required(), mcp.Description("keep, keep:<endpoint-id>, update, or new")),
		),
		s.handleAnswerConflict,
	)
}
