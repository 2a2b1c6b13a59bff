package dispatch

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/classify"
)

// Execution status values. StatusProcessing only ever appears on live
// state; persisted records and results carry one of the other three.
const (
	StatusProcessing          = "processing"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusError               = "error"
)

// ExecutionState accumulates one request's progress through dispatch.
type ExecutionState struct {
	SessionID      string
	RequestID      string
	Text           string
	Classification classify.Classification
	Context        string
	Output         string
	Operations     map[capability.Tag][]capability.OperationSummary
	Errors         []string
	Status         string
	StartedAt      time.Time

	persisted bool
}

func newExecutionState(sessionID, requestID, text string, startedAt time.Time) *ExecutionState {
	return &ExecutionState{
		SessionID: sessionID,
		RequestID: requestID,
		Text:      text,
		// Preset so a fault before classification still records a sane
		// task type.
		Classification: classify.Classification{Primary: capability.TagChat},
		Operations:     make(map[capability.Tag][]capability.OperationSummary),
		Status:         StatusProcessing,
		StartedAt:      startedAt,
	}
}

// appendOutput appends a section with a blank-line separator.
func (s *ExecutionState) appendOutput(section string) {
	if section == "" {
		return
	}
	if s.Output != "" {
		s.Output += "\n\n"
	}
	s.Output += section
}

// joinedErrors renders the error list for the persisted record.
func (s *ExecutionState) joinedErrors() string {
	return strings.Join(s.Errors, "; ")
}

// Result is the caller-facing view of one dispatched request.
type Result struct {
	RequestID          string                                           `json:"request_id"`
	SessionID          string                                           `json:"session_id"`
	TaskType           string                                           `json:"task_type"`
	SecondaryRoutes    []string                                         `json:"secondary_routes,omitempty"`
	Confidence         float64                                          `json:"confidence"`
	DeclaredOperations []string                                         `json:"declared_operations,omitempty"`
	Output             string                                           `json:"output"`
	Status             string                                           `json:"status"`
	ElapsedMs          int64                                            `json:"elapsed_ms"`
	Operations         map[capability.Tag][]capability.OperationSummary `json:"operations,omitempty"`
	Errors             []string                                         `json:"errors,omitempty"`
	StartedAt          time.Time                                        `json:"started_at"`
}
