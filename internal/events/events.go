// Package events publishes dispatch lifecycle events over NATS.
//
// Events are best effort: a daemon without NATS dispatches exactly the
// same, and a failed publish never fails the request. Subscribers use
// the subject hierarchy to watch a single session, a single request or
// everything:
//
//	dispatch.{session_id}.{request_id}.started
//	dispatch.{session_id}.{request_id}.operation
//	dispatch.{session_id}.{request_id}.completed
//	dispatch.{session_id}.{request_id}.failed
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
)

// Event types.
const (
	EventStarted   = "started"
	EventOperation = "operation"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// StartedEvent announces that a request entered dispatch.
type StartedEvent struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// OperationEvent reports one capability invocation.
type OperationEvent struct {
	SessionID string                      `json:"session_id"`
	RequestID string                      `json:"request_id"`
	Summary   capability.OperationSummary `json:"summary"`
	Timestamp time.Time                   `json:"timestamp"`
}

// CompletedEvent reports the final outcome of a request. It is also the
// payload of the failed event, with Status "error".
type CompletedEvent struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	TaskType  string    `json:"task_type"`
	Status    string    `json:"status"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Errors    []string  `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes dispatch events. The zero value and a nil
// Publisher both drop everything silently.
type Publisher struct {
	nc  *nats.Conn
	log *logging.Logger
}

// NewPublisher wraps an established NATS connection. A nil conn returns
// a publisher that drops all events.
func NewPublisher(nc *nats.Conn, log *logging.Logger) *Publisher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Publisher{nc: nc, log: log}
}

// Started publishes the started event for a request.
func (p *Publisher) Started(ctx context.Context, sessionID, requestID, text string) {
	p.publish(ctx, sessionID, requestID, EventStarted, StartedEvent{
		SessionID: sessionID,
		RequestID: requestID,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Operation publishes one capability invocation summary.
func (p *Publisher) Operation(ctx context.Context, sessionID, requestID string, summary capability.OperationSummary) {
	p.publish(ctx, sessionID, requestID, EventOperation, OperationEvent{
		SessionID: sessionID,
		RequestID: requestID,
		Summary:   summary,
		Timestamp: time.Now(),
	})
}

// Completed publishes the final outcome of a request.
func (p *Publisher) Completed(ctx context.Context, ev CompletedEvent) {
	ev.Timestamp = time.Now()
	p.publish(ctx, ev.SessionID, ev.RequestID, EventCompleted, ev)
}

// Failed publishes the fault outcome of a request.
func (p *Publisher) Failed(ctx context.Context, ev CompletedEvent) {
	ev.Timestamp = time.Now()
	p.publish(ctx, ev.SessionID, ev.RequestID, EventFailed, ev)
}

func (p *Publisher) publish(ctx context.Context, sessionID, requestID, event string, payload any) {
	if p == nil || p.nc == nil {
		return
	}

	subject := fmt.Sprintf("dispatch.%s.%s.%s", sessionID, requestID, event)

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Debug(ctx, "marshal dispatch event failed",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Debug(ctx, "publish dispatch event failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
