// Package dispatch routes free-text requests across the registered
// capability adapters and assembles the merged response.
//
// Dispatch is sequential by contract: the primary route runs first,
// then each secondary in classification order, and output sections are
// merged in that same order. Adapter failures never abort a request;
// they become diagnostic sections and ride the completed_with_errors
// status. Every dispatch persists exactly one execution record,
// including the fault path.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/classify"
	"github.com/fyrsmithlabs/dispatchd/internal/events"
	"github.com/fyrsmithlabs/dispatchd/internal/execlog"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/memory"
)

// contextTurns is how many recent turns each request sees.
const contextTurns = 5

// faultReply replaces the output when dispatch itself faults. Partial
// per-route output is not preserved on this path.
const faultReply = "I apologize, but I ran into an internal error while processing your request. Please try again."

// Orchestrator coordinates classification, adapter invocation, merging,
// persistence and events for each request.
type Orchestrator struct {
	classifier classify.Classifier
	registry   *capability.Registry
	memory     *memory.Manager
	log        execlog.Log
	events     *events.Publisher
	logger     *logging.Logger
	metrics    *Metrics

	newID func() string
	now   func() time.Time
}

// New creates an orchestrator. The classifier and registry are
// required; the log, events publisher and metrics may be nil and their
// concerns are then skipped.
func New(
	classifier classify.Classifier,
	registry *capability.Registry,
	mem *memory.Manager,
	log execlog.Log,
	pub *events.Publisher,
	logger *logging.Logger,
	metrics *Metrics,
) *Orchestrator {
	if mem == nil {
		mem = memory.NewManager(0)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		classifier: classifier,
		registry:   registry,
		memory:     mem,
		log:        log,
		events:     pub,
		logger:     logger,
		metrics:    metrics,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Dispatch runs one request end to end and returns its result. It never
// returns an error: adapter failures surface in the result's error
// list, and an internal panic surfaces as a StatusError result.
func (o *Orchestrator) Dispatch(ctx context.Context, sessionID, text string) (res *Result) {
	requestID := o.newID()
	start := o.now()
	state := newExecutionState(sessionID, requestID, text, start)

	o.events.Started(ctx, sessionID, requestID, text)

	// Outermost recovery. Anything that escapes the per-adapter guards
	// (classifier, memory, persistence bugs) lands here instead of
	// unwinding into the server.
	defer func() {
		if r := recover(); r != nil {
			res = o.fault(ctx, state, r)
		}
	}()

	state.Classification = o.classifier.Classify(text)
	state.Context = o.memory.Window(sessionID).Recent(contextTurns)

	req := capability.Request{
		SessionID:  sessionID,
		RequestID:  requestID,
		Text:       text,
		Context:    state.Context,
		Operations: state.Classification.Operations,
	}

	for _, tag := range state.Classification.Routes() {
		outcome := o.invoke(ctx, tag, req)
		o.merge(state, tag, outcome)
		o.metrics.RecordOperation(ctx, string(tag), outcome.Success)
		o.audit(ctx, state, tag, req, outcome)
	}

	elapsed := o.now().Sub(start)
	if len(state.Errors) == 0 {
		state.Status = StatusCompleted
	} else {
		state.Status = StatusCompletedWithErrors
	}

	o.persist(ctx, state, elapsed)

	if state.Output != "" {
		o.remember(ctx, state)
	}

	o.metrics.RecordRequest(ctx, string(state.Classification.Primary), state.Status, elapsed)
	o.events.Completed(ctx, events.CompletedEvent{
		SessionID: state.SessionID,
		RequestID: state.RequestID,
		TaskType:  string(state.Classification.Primary),
		Status:    state.Status,
		ElapsedMs: elapsed.Milliseconds(),
		Errors:    state.Errors,
	})

	o.logger.Info(ctx, "request dispatched",
		zap.String("request_id", state.RequestID),
		zap.String("session_id", state.SessionID),
		zap.String("task_type", string(state.Classification.Primary)),
		zap.String("status", state.Status),
		zap.Duration("elapsed", elapsed))

	return o.result(state, elapsed)
}

// invoke resolves and runs one route. Missing and unavailable adapters
// become synthetic failures so siblings keep running.
func (o *Orchestrator) invoke(ctx context.Context, tag capability.Tag, req capability.Request) capability.Outcome {
	adapter, ok := o.registry.Get(tag)
	if !ok {
		return capability.Failure("route", fmt.Sprintf("no adapter registered for %s", tag))
	}
	if !adapter.Available(ctx) {
		return capability.Failure("route", fmt.Sprintf("%s service is not available", tag.Label()))
	}
	return o.safeInvoke(ctx, adapter, req)
}

// safeInvoke guards a single adapter call. A panicking adapter yields a
// failure outcome; its siblings still run.
func (o *Orchestrator) safeInvoke(ctx context.Context, adapter capability.Adapter, req capability.Request) (out capability.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "adapter panic recovered",
				zap.String("service", string(adapter.Tag())),
				zap.Any("panic", r),
				zap.Stack("stack"))
			out = capability.Failure("invoke", fmt.Sprintf("adapter panic: %v", r))
		}
	}()
	return adapter.Invoke(ctx, req)
}

// merge folds one outcome into the state: payload or diagnostic section
// into the output, failures into the error list, and a summary either way.
func (o *Orchestrator) merge(state *ExecutionState, tag capability.Tag, out capability.Outcome) {
	summary := capability.OperationSummary{
		Service:   tag,
		Operation: out.Operation,
		Success:   out.Success,
	}

	if out.Success {
		state.appendOutput(out.Payload)
	} else {
		state.appendOutput(fmt.Sprintf("❌ %s request failed: %s", tag.Label(), out.Err))
		state.Errors = append(state.Errors, out.Err)
		summary.Detail = out.Err
	}

	state.Operations[tag] = append(state.Operations[tag], summary)
}

// audit appends the operation record and publishes the operation event.
// A failed append is a warning, not a dispatch failure.
func (o *Orchestrator) audit(ctx context.Context, state *ExecutionState, tag capability.Tag, req capability.Request, out capability.Outcome) {
	summaries := state.Operations[tag]
	summary := summaries[len(summaries)-1]

	if o.log != nil {
		status := StatusCompleted
		if !out.Success {
			status = StatusError
		}
		rec := execlog.OperationRecord{
			SessionID: state.SessionID,
			RequestID: state.RequestID,
			Service:   string(tag),
			Operation: out.Operation,
			Request:   marshalAudit(map[string]any{"text": req.Text, "operations": req.Operations}),
			Response:  marshalAudit(map[string]any{"payload": out.Payload, "data": out.Data, "error": out.Err}),
			Status:    status,
		}
		if err := o.log.AppendOperation(ctx, rec); err != nil {
			o.logger.Warn(ctx, "append operation record failed",
				zap.String("request_id", state.RequestID),
				zap.String("service", string(tag)),
				zap.Error(err))
		}
	}

	o.events.Operation(ctx, state.SessionID, state.RequestID, summary)
}

// persist writes the execution record. Guarded so a fault after the
// happy-path persist cannot write a second record.
func (o *Orchestrator) persist(ctx context.Context, state *ExecutionState, elapsed time.Duration) {
	if state.persisted {
		return
	}
	state.persisted = true

	if o.log == nil {
		return
	}

	rec := execlog.ExecutionRecord{
		SessionID: state.SessionID,
		RequestID: state.RequestID,
		TaskType:  string(state.Classification.Primary),
		Input:     state.Text,
		Output:    state.Output,
		Status:    state.Status,
		Error:     state.joinedErrors(),
		Elapsed:   elapsed,
	}
	if err := o.log.AppendExecution(ctx, rec); err != nil {
		o.logger.Warn(ctx, "append execution record failed",
			zap.String("request_id", state.RequestID),
			zap.Error(err))
	}
}

// remember updates the session window and the durable conversation log.
// Only called when the final output is non-empty.
func (o *Orchestrator) remember(ctx context.Context, state *ExecutionState) {
	o.memory.Window(state.SessionID).Append(state.Text, state.Output)

	if o.log == nil {
		return
	}
	if err := o.log.AppendTurn(ctx, state.SessionID, execlog.RoleUser, state.Text); err != nil {
		o.logger.Warn(ctx, "append user turn failed",
			zap.String("request_id", state.RequestID), zap.Error(err))
	}
	if err := o.log.AppendTurn(ctx, state.SessionID, execlog.RoleAssistant, state.Output); err != nil {
		o.logger.Warn(ctx, "append assistant turn failed",
			zap.String("request_id", state.RequestID), zap.Error(err))
	}
}

// fault is the outermost panic path: error status, apology output, the
// panic message as the only error, record persisted, failed event.
func (o *Orchestrator) fault(ctx context.Context, state *ExecutionState, cause any) *Result {
	msg := fmt.Sprintf("%v", cause)
	o.logger.Error(ctx, "dispatch panic recovered",
		zap.String("request_id", state.RequestID),
		zap.String("session_id", state.SessionID),
		zap.Any("panic", cause),
		zap.Stack("stack"))

	state.Status = StatusError
	state.Output = faultReply
	state.Errors = []string{msg}

	elapsed := o.now().Sub(state.StartedAt)
	o.persist(ctx, state, elapsed)

	o.metrics.RecordRequest(ctx, string(state.Classification.Primary), state.Status, elapsed)
	o.events.Failed(ctx, events.CompletedEvent{
		SessionID: state.SessionID,
		RequestID: state.RequestID,
		TaskType:  string(state.Classification.Primary),
		Status:    state.Status,
		ElapsedMs: elapsed.Milliseconds(),
		Errors:    state.Errors,
	})

	return o.result(state, elapsed)
}

func (o *Orchestrator) result(state *ExecutionState, elapsed time.Duration) *Result {
	var secondary []string
	for _, t := range state.Classification.Secondary {
		secondary = append(secondary, string(t))
	}

	return &Result{
		RequestID:          state.RequestID,
		SessionID:          state.SessionID,
		TaskType:           string(state.Classification.Primary),
		SecondaryRoutes:    secondary,
		Confidence:         state.Classification.Confidence,
		DeclaredOperations: state.Classification.Operations,
		Output:             state.Output,
		Status:             state.Status,
		ElapsedMs:          elapsed.Milliseconds(),
		Operations:         state.Operations,
		Errors:             state.Errors,
		StartedAt:          state.StartedAt,
	}
}

// marshalAudit best-effort serializes an audit payload.
func marshalAudit(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(data)
}
