// Package execlog provides the append-only execution log.
//
// Every dispatched request leaves a trail here: the conversation turns,
// one execution record per request, and one operation record per
// capability invocation. Records are never updated or deleted.
package execlog

import (
	"context"
	"time"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Log is the write surface used by the dispatch orchestrator.
type Log interface {
	// AppendTurn records one side of a conversation exchange.
	AppendTurn(ctx context.Context, sessionID, role, content string) error

	// AppendExecution records the outcome of a dispatched request.
	AppendExecution(ctx context.Context, rec ExecutionRecord) error

	// AppendOperation records a single capability invocation.
	AppendOperation(ctx context.Context, rec OperationRecord) error
}

// TurnRecord is a persisted conversation turn.
type TurnRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ExecutionRecord captures one dispatched request end to end.
type ExecutionRecord struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	RequestID string        `json:"request_id"`
	TaskType  string        `json:"task_type"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ms"`
	CreatedAt string        `json:"created_at"`
}

// OperationRecord captures one capability invocation within a request.
// Request and Response carry serialized JSON payloads.
type OperationRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Request   string `json:"request,omitempty"`
	Response  string `json:"response,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Stats summarizes the whole log.
type Stats struct {
	TotalTurns       int64            `json:"total_turns"`
	TotalExecutions  int64            `json:"total_executions"`
	TotalOperations  int64            `json:"total_operations"`
	DistinctSessions int64            `json:"distinct_sessions"`
	ByStatus         map[string]int64 `json:"by_status"`
	ByTaskType       map[string]int64 `json:"by_task_type"`
	AvgElapsedMs     float64          `json:"avg_elapsed_ms"`
}
