package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func subscribe(t *testing.T, nc *nats.Conn, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(subject, ch)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestPublisherStarted(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewPublisher(nc, nil)
	ch := subscribe(t, nc, "dispatch.sess-1.req-1.started")

	pub.Started(context.Background(), "sess-1", "req-1", "list my repos")

	msg := receive(t, ch)
	var ev StartedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "list my repos", ev.Text)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestPublisherOperation(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewPublisher(nc, nil)
	ch := subscribe(t, nc, "dispatch.sess-1.req-1.operation")

	pub.Operation(context.Background(), "sess-1", "req-1", capability.OperationSummary{
		Service:   capability.TagRepository,
		Operation: "list_repositories",
		Success:   true,
	})

	msg := receive(t, ch)
	var ev OperationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, capability.TagRepository, ev.Summary.Service)
	assert.Equal(t, "list_repositories", ev.Summary.Operation)
	assert.True(t, ev.Summary.Success)
}

func TestPublisherCompletedAndFailed(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewPublisher(nc, nil)
	completed := subscribe(t, nc, "dispatch.sess-1.req-1.completed")
	failed := subscribe(t, nc, "dispatch.sess-1.req-2.failed")

	pub.Completed(context.Background(), CompletedEvent{
		SessionID: "sess-1",
		RequestID: "req-1",
		TaskType:  "chat",
		Status:    "completed",
		ElapsedMs: 12,
	})
	pub.Failed(context.Background(), CompletedEvent{
		SessionID: "sess-1",
		RequestID: "req-2",
		TaskType:  "chat",
		Status:    "error",
		Errors:    []string{"panic: boom"},
	})

	var ev CompletedEvent
	require.NoError(t, json.Unmarshal(receive(t, completed).Data, &ev))
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, int64(12), ev.ElapsedMs)

	require.NoError(t, json.Unmarshal(receive(t, failed).Data, &ev))
	assert.Equal(t, "error", ev.Status)
	assert.Equal(t, []string{"panic: boom"}, ev.Errors)
}

func TestPublisherSubjectHierarchy(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewPublisher(nc, nil)
	// Wildcard across one session sees every request and event type.
	ch := subscribe(t, nc, "dispatch.sess-1.>")

	pub.Started(context.Background(), "sess-1", "req-1", "hello")
	pub.Completed(context.Background(), CompletedEvent{SessionID: "sess-1", RequestID: "req-1", Status: "completed"})

	first := receive(t, ch)
	second := receive(t, ch)
	assert.Equal(t, "dispatch.sess-1.req-1.started", first.Subject)
	assert.Equal(t, "dispatch.sess-1.req-1.completed", second.Subject)
}

func TestPublisherNilSafe(t *testing.T) {
	// None of these may panic or block.
	var nilPub *Publisher
	nilPub.Started(context.Background(), "s", "r", "text")

	pub := NewPublisher(nil, nil)
	pub.Started(context.Background(), "s", "r", "text")
	pub.Operation(context.Background(), "s", "r", capability.OperationSummary{})
	pub.Completed(context.Background(), CompletedEvent{})
	pub.Failed(context.Background(), CompletedEvent{})
}
