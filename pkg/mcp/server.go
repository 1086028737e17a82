// Package mcp exposes the agent-facing tool surface: the workflow journal,
// the cross-agent data store, report delivery and a clock.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/artifacts"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Recorder  *journal.Recorder
	Tracker   *journal.TaskTracker
	Store     store.Store
	Artifacts artifacts.Storage
	Logger    *slog.Logger
}

// Server wraps an MCP server with the cost-optimizer tool handlers.
type Server struct {
	recorder  *journal.Recorder
	tracker   *journal.TaskTracker
	store     store.Store
	artifacts artifacts.Storage
	bindings  *SessionBindings
	query     *jqRunner
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 4 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		recorder:  deps.Recorder,
		tracker:   deps.Tracker,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		bindings:  NewSessionBindings(),
		query:     newJQRunner(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"cost-optimizer",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cost optimization workflow tools. Use journal to track workflow phases (start_task before a phase, complete_task after), data_store to pass results between agents, report to deliver the final report, and current_time for timestamps."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Bindings returns the session binding registry so the host can bind the
// workflow session before handing the server to an agent.
func (s *Server) Bindings() *SessionBindings {
	return s.bindings
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: journalTool(), Handler: s.handleJournal},
		{Tool: dataStoreTool(), Handler: s.handleDataStore},
		{Tool: reportTool(), Handler: s.handleReport},
		{Tool: currentTimeTool(), Handler: s.handleCurrentTime},
	}
}

// --- Tool definitions ---

func journalTool() mcp.Tool {
	return mcp.NewTool("journal",
		mcp.WithDescription("Track workflow phases in the session journal. Call with action=start_task before beginning a phase and action=complete_task when it finishes."),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("start_task", "complete_task"),
			mcp.Description("Journal operation to perform"),
		),
		mcp.WithString("phase_name", mcp.Required(),
			mcp.Description("Human-readable phase name, e.g. 'Cost Analysis'")),
		mcp.WithString("status",
			mcp.Enum("COMPLETED", "FAILED", "CANCELLED", "SKIPPED"),
			mcp.Description("Completion status for complete_task (default COMPLETED)"),
		),
		mcp.WithString("error_message", mcp.Description("Failure description for complete_task with status FAILED")),
		mcp.WithString("session_id", mcp.Description("Workflow session override; defaults to the session bound to this connection")),
	)
}

func dataStoreTool() mcp.Tool {
	return mcp.NewTool("data_store",
		mcp.WithDescription("Store and retrieve data shared between agents in a session, e.g. analysis results for the report agent."),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("read", "write"),
			mcp.Description("Data operation to perform"),
		),
		mcp.WithString("key", mcp.Required(), mcp.Description("Data key, e.g. ANALYSIS_RESULTS")),
		mcp.WithString("content", mcp.Description("Data to store (required for write)")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the stored JSON on read")),
		mcp.WithString("session_id", mcp.Description("Workflow session override; defaults to the session bound to this connection")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("report",
		mcp.WithDescription("Deliver the final cost optimization report for the session."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Report content (markdown)")),
		mcp.WithString("name", mcp.Description("Artifact name (default cost-report.md)")),
		mcp.WithString("session_id", mcp.Description("Workflow session override; defaults to the session bound to this connection")),
	)
}

func currentTimeTool() mcp.Tool {
	return mcp.NewTool("current_time",
		mcp.WithDescription("Get the current UTC time in ISO-8601 format."),
	)
}
