// Package mcp exposes dispatchd over the Model Context Protocol.
//
// The server runs on stdio (dispatchd --mcp) and offers three tools:
// dispatch a request, read a session's conversation history, and read
// log-wide statistics. It calls the orchestrator and execution log
// directly; there is no transport between them.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/dispatch"
	"github.com/fyrsmithlabs/dispatchd/internal/execlog"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
)

// Dispatcher runs one request end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, text string) *dispatch.Result
}

// Reader is the analytics read side of the execution log.
type Reader interface {
	History(ctx context.Context, sessionID string, limit int) ([]execlog.TurnRecord, error)
	Stats(ctx context.Context) (*execlog.Stats, error)
}

// Server is the MCP stdio server.
type Server struct {
	mcp        *mcp.Server
	dispatcher Dispatcher
	reader     Reader
	logger     *logging.Logger
}

// NewServer creates the MCP server and registers the tools.
func NewServer(dispatcher Dispatcher, reader Reader, logger *logging.Logger, cfg config.MCPConfig) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("execution log reader is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:        mcpServer,
		dispatcher: dispatcher,
		reader:     reader,
		logger:     logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport and blocks until the
// context is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server run failed: %w", err)
	}
	return nil
}

type dispatchInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session identifier; omit to start a fresh session"`
	Request   string `json:"request" jsonschema:"required,The free-text request to dispatch"`
}

type dispatchOutput struct {
	RequestID       string   `json:"request_id" jsonschema:"Request identifier"`
	SessionID       string   `json:"session_id" jsonschema:"Session identifier"`
	TaskType        string   `json:"task_type" jsonschema:"Primary capability the request was routed to"`
	SecondaryRoutes []string `json:"secondary_routes,omitempty" jsonschema:"Additional capabilities invoked after the primary"`
	Output          string   `json:"output" jsonschema:"Merged response text"`
	Status          string   `json:"status" jsonschema:"completed, completed_with_errors or error"`
	ElapsedMs       int64    `json:"elapsed_ms" jsonschema:"Wall-clock dispatch time in milliseconds"`
	Errors          []string `json:"errors,omitempty" jsonschema:"Errors collected during dispatch"`
}

type historyInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum turns to return (default: 20)"`
}

type historyOutput struct {
	Turns []execlog.TurnRecord `json:"turns" jsonschema:"Conversation turns, most recent last"`
	Count int                  `json:"count" jsonschema:"Number of turns returned"`
}

type statsInput struct{}

type statsOutput struct {
	Stats *execlog.Stats `json:"stats" jsonschema:"Execution log statistics"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "dispatch",
		Description: "Dispatch a free-text request to the appropriate capabilities and return the merged result",
	}, s.handleDispatch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "history",
		Description: "Read a session's conversation history from the execution log",
	}, s.handleHistory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats",
		Description: "Read execution log statistics: totals, per-status and per-task-type counts",
	}, s.handleStats)
}

func (s *Server) handleDispatch(ctx context.Context, _ *mcp.CallToolRequest, args dispatchInput) (*mcp.CallToolResult, dispatchOutput, error) {
	if args.Request == "" {
		return nil, dispatchOutput{}, fmt.Errorf("request is required")
	}

	result := s.dispatcher.Dispatch(ctx, args.SessionID, args.Request)

	out := dispatchOutput{
		RequestID:       result.RequestID,
		SessionID:       result.SessionID,
		TaskType:        result.TaskType,
		SecondaryRoutes: result.SecondaryRoutes,
		Output:          result.Output,
		Status:          result.Status,
		ElapsedMs:       result.ElapsedMs,
		Errors:          result.Errors,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: result.Output},
		},
	}, out, nil
}

func (s *Server) handleHistory(ctx context.Context, _ *mcp.CallToolRequest, args historyInput) (*mcp.CallToolResult, historyOutput, error) {
	if args.SessionID == "" {
		return nil, historyOutput{}, fmt.Errorf("session_id is required")
	}
	limit := args.Limit
	if limit < 1 {
		limit = 20
	}

	turns, err := s.reader.History(ctx, args.SessionID, limit)
	if err != nil {
		s.logger.Error(ctx, "history read failed",
			zap.String("session_id", args.SessionID), zap.Error(err))
		return nil, historyOutput{}, fmt.Errorf("history read failed: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d turns", len(turns))},
		},
	}, historyOutput{Turns: turns, Count: len(turns)}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, statsOutput, error) {
	stats, err := s.reader.Stats(ctx)
	if err != nil {
		s.logger.Error(ctx, "stats read failed", zap.Error(err))
		return nil, statsOutput{}, fmt.Errorf("stats read failed: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d executions recorded", stats.TotalExecutions)},
		},
	}, statsOutput{Stats: stats}, nil
}
