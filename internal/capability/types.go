// Package capability defines the adapter contract between the dispatch
// orchestrator and the backend services it routes requests to.
//
// Every backend (conversation model, GitHub, code generation, planning,
// relational query, composite workflow) is wrapped in an Adapter that
// exposes the same three-method surface. Adapters never panic across the
// boundary and never return Go errors from Invoke: every failure is
// encoded in the Outcome value so the orchestrator can merge partial
// results deterministically.
package capability

import "context"

// Tag identifies a capability. The set is closed; routing, adapter
// registration and audit records all use these values.
type Tag string

const (
	// TagChat is general conversation, the classification fallback.
	TagChat Tag = "chat"

	// TagRepository is repository management via the GitHub API.
	TagRepository Tag = "repository"

	// TagCodegen is source code generation.
	TagCodegen Tag = "codegen"

	// TagPlanning is task planning and breakdown.
	TagPlanning Tag = "planning"

	// TagDatabase is natural-language relational queries.
	TagDatabase Tag = "database"

	// TagWorkflow is multi-capability composite workflows.
	TagWorkflow Tag = "workflow"
)

// CanonicalOrder is the fixed evaluation order for specialized
// capabilities. Classification scans rules in this order and the
// orchestrator merges secondary outputs in this order, so routing and
// output layout stay deterministic for a given request.
//
// TagChat is deliberately absent: it is the fallback primary, never a
// keyword route.
var CanonicalOrder = []Tag{
	TagRepository,
	TagCodegen,
	TagPlanning,
	TagDatabase,
	TagWorkflow,
}

// Label returns the human-readable capability name used in diagnostics
// and merged output sections.
func (t Tag) Label() string {
	switch t {
	case TagChat:
		return "Conversation"
	case TagRepository:
		return "Repository"
	case TagCodegen:
		return "Code generation"
	case TagPlanning:
		return "Planning"
	case TagDatabase:
		return "Database"
	case TagWorkflow:
		return "Workflow"
	default:
		return string(t)
	}
}

// Valid reports whether t is one of the closed set of tags.
func (t Tag) Valid() bool {
	switch t {
	case TagChat, TagRepository, TagCodegen, TagPlanning, TagDatabase, TagWorkflow:
		return true
	}
	return false
}

// Request is the uniform adapter input.
type Request struct {
	// SessionID identifies the conversation session. Opaque to adapters.
	SessionID string `json:"session_id"`

	// RequestID correlates adapter work with the dispatch that caused it.
	RequestID string `json:"request_id"`

	// Text is the raw user request.
	Text string `json:"text"`

	// Context is the rendered recent conversation history, possibly empty.
	Context string `json:"context,omitempty"`

	// Operations are the declared operations from classification. They
	// feed the audit trail; adapters may consult them but must not
	// require them.
	Operations []string `json:"operations,omitempty"`
}

// Outcome is the uniform adapter result. Exactly one of the two shapes
// holds: Success true with Err empty, or Success false with Err set.
type Outcome struct {
	// Success reports whether the invocation produced a usable result.
	Success bool `json:"success"`

	// Operation is the operation tag the adapter selected for this
	// invocation (for example "create_repository").
	Operation string `json:"operation"`

	// Payload is the rendered output section contributed to the merged
	// response. Empty on failure.
	Payload string `json:"payload,omitempty"`

	// Data carries the structured response payload persisted with the
	// operation record.
	Data map[string]any `json:"data,omitempty"`

	// Err is the failure description. Non-empty iff Success is false.
	Err string `json:"error,omitempty"`
}

// Failure builds a failed Outcome for the given operation.
func Failure(operation, err string) Outcome {
	return Outcome{Operation: operation, Err: err}
}

// OperationSummary is the per-invocation entry recorded on the execution
// state and returned in the dispatch result.
type OperationSummary struct {
	Service   Tag    `json:"service"`
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

// Adapter is the uniform capability surface the orchestrator routes
// through.
//
// Available is the liveness probe: adapters constructed without their
// backing configuration (missing token, missing pool) report false and
// the orchestrator synthesizes the failure without invoking them.
// Implementations must keep Invoke total: convert every internal error
// into a failure Outcome rather than panicking or returning it.
type Adapter interface {
	// Tag returns the capability this adapter serves.
	Tag() Tag

	// Available reports whether the adapter can currently serve requests.
	Available(ctx context.Context) bool

	// Invoke executes the request and returns the outcome. It never
	// panics past the adapter boundary.
	Invoke(ctx context.Context, req Request) Outcome
}
