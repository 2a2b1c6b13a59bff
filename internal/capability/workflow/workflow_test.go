package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
)

type fakeModel struct {
	lastReq llm.Request
	reply   string
	err     error
}

func (m *fakeModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.lastReq = req
	return m.reply, m.err
}

type stubAdapter struct {
	tag      capability.Tag
	outcome  capability.Outcome
	requests []capability.Request
	panicMsg string
}

func (s *stubAdapter) Tag() capability.Tag            { return s.tag }
func (s *stubAdapter) Available(context.Context) bool { return true }

func (s *stubAdapter) Invoke(_ context.Context, req capability.Request) capability.Outcome {
	s.requests = append(s.requests, req)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.outcome
}

func newRegistry(adapters ...capability.Adapter) *capability.Registry {
	r := capability.NewRegistry()
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

const twoStepPlan = `{"services":["planning","codegen"],` +
	`"steps":[{"service":"planning","action":"break_down","input":"plan the feature"},` +
	`{"service":"codegen","action":"generate","input":"write the code"}],` +
	`"success_criteria":"feature shipped"}`

func TestTagAndAvailability(t *testing.T) {
	ctx := context.Background()

	adapter := New(nil, newRegistry())
	assert.Equal(t, capability.TagWorkflow, adapter.Tag())
	assert.False(t, adapter.Available(ctx))

	adapter = New(&fakeModel{}, newRegistry())
	assert.True(t, adapter.Available(ctx))
}

func TestInvokeUnavailable(t *testing.T) {
	adapter := New(nil, newRegistry())

	out := adapter.Invoke(context.Background(), capability.Request{Text: "do things"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Err, "workflow service is not configured")
}

func TestInvokePlanAndExecute(t *testing.T) {
	planning := &stubAdapter{
		tag:     capability.TagPlanning,
		outcome: capability.Outcome{Success: true, Operation: "create_plan", Payload: "✅ Plan created:\n\n1. do it"},
	}
	codegen := &stubAdapter{
		tag:     capability.TagCodegen,
		outcome: capability.Outcome{Success: true, Operation: "generate_code", Payload: "✅ Code generated"},
	}
	model := &fakeModel{reply: "```json\n" + twoStepPlan + "\n```"}
	adapter := New(model, newRegistry(planning, codegen))

	out := adapter.Invoke(context.Background(), capability.Request{
		SessionID: "sess-1",
		Text:      "plan and build the feature",
	})

	require.True(t, out.Success, out.Err)
	assert.Equal(t, "run_workflow", out.Operation)
	assert.Contains(t, out.Payload, "✅ Workflow executed (2 steps):")
	assert.Contains(t, out.Payload, "Step 1 (planning/break_down): ✓")
	assert.Contains(t, out.Payload, "Step 2 (codegen/generate): ✓")
	assert.Contains(t, out.Payload, "Success criteria: feature shipped")

	// Each step carried its own input on the shared session.
	require.Len(t, planning.requests, 1)
	assert.Equal(t, "plan the feature", planning.requests[0].Text)
	assert.Equal(t, "sess-1", planning.requests[0].SessionID)
	require.Len(t, codegen.requests, 1)
	assert.Equal(t, "write the code", codegen.requests[0].Text)

	assert.Contains(t, model.lastReq.Prompt, "plan and build the feature")
	assert.NotNil(t, out.Data["plan"])
	assert.NotNil(t, out.Data["steps"])
}

func TestInvokeFallbackPlanRoutesToChat(t *testing.T) {
	chat := &stubAdapter{
		tag:     capability.TagChat,
		outcome: capability.Outcome{Success: true, Operation: "chat_reply", Payload: "sure thing"},
	}
	model := &fakeModel{reply: "I could not produce a structured plan, sorry."}
	adapter := New(model, newRegistry(chat))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "help me out"})

	require.True(t, out.Success, out.Err)
	assert.Contains(t, out.Payload, "✅ Workflow executed (1 steps):")
	assert.Contains(t, out.Payload, "Step 1 (chat/respond): ✓")
	require.Len(t, chat.requests, 1)
	assert.Equal(t, "help me out", chat.requests[0].Text)
}

func TestInvokeUnknownServiceFallsBackToChat(t *testing.T) {
	chat := &stubAdapter{
		tag:     capability.TagChat,
		outcome: capability.Outcome{Success: true, Payload: "handled"},
	}
	model := &fakeModel{reply: `{"services":["email"],"steps":[{"service":"email","action":"send","input":"notify the team"}],"success_criteria":"sent"}`}
	adapter := New(model, newRegistry(chat))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "notify everyone"})

	require.True(t, out.Success, out.Err)
	assert.Contains(t, out.Payload, "Step 1 (chat/send): ✓")
	require.Len(t, chat.requests, 1)
	assert.Equal(t, "notify the team", chat.requests[0].Text)
}

func TestInvokeSelfReferenceFallsBackToChat(t *testing.T) {
	chat := &stubAdapter{
		tag:     capability.TagChat,
		outcome: capability.Outcome{Success: true, Payload: "handled"},
	}
	model := &fakeModel{reply: `{"services":["workflow"],"steps":[{"service":"workflow","action":"recurse","input":"again"}],"success_criteria":"done"}`}
	adapter := New(model, newRegistry(chat))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "loop"})

	require.True(t, out.Success, out.Err)
	assert.Contains(t, out.Payload, "Step 1 (chat/recurse): ✓")
	require.Len(t, chat.requests, 1)
}

func TestInvokePartialFailureStillSucceeds(t *testing.T) {
	planning := &stubAdapter{
		tag:     capability.TagPlanning,
		outcome: capability.Outcome{Success: true, Payload: "✅ Plan created"},
	}
	codegen := &stubAdapter{
		tag:     capability.TagCodegen,
		outcome: capability.Failure("generate_code", "model overloaded"),
	}
	model := &fakeModel{reply: twoStepPlan}
	adapter := New(model, newRegistry(planning, codegen))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "build it"})

	assert.True(t, out.Success)
	assert.Empty(t, out.Err)
	assert.Contains(t, out.Payload, "Step 1 (planning/break_down): ✓")
	assert.Contains(t, out.Payload, "Step 2 (codegen/generate): ✗ model overloaded")
}

func TestInvokeAllStepsFailed(t *testing.T) {
	planning := &stubAdapter{
		tag:     capability.TagPlanning,
		outcome: capability.Failure("create_plan", "planning service is not configured"),
	}
	codegen := &stubAdapter{
		tag:     capability.TagCodegen,
		outcome: capability.Failure("generate_code", "code generation service is not configured"),
	}
	model := &fakeModel{reply: twoStepPlan}
	adapter := New(model, newRegistry(planning, codegen))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "build it"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Err, "all 2 workflow steps failed")
	assert.Contains(t, out.Payload, "✗")
}

func TestInvokeMissingAdapterFailsStep(t *testing.T) {
	model := &fakeModel{reply: `{"services":["repository"],"steps":[{"service":"repository","action":"create","input":"make a repo"}],"success_criteria":"created"}`}
	adapter := New(model, newRegistry())

	out := adapter.Invoke(context.Background(), capability.Request{Text: "make a repo"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Payload, "no adapter registered for repository")
}

func TestInvokePanickingStepIsContained(t *testing.T) {
	planning := &stubAdapter{tag: capability.TagPlanning, panicMsg: "boom"}
	codegen := &stubAdapter{
		tag:     capability.TagCodegen,
		outcome: capability.Outcome{Success: true, Payload: "✅ Code generated"},
	}
	model := &fakeModel{reply: twoStepPlan}
	adapter := New(model, newRegistry(planning, codegen))

	out := adapter.Invoke(context.Background(), capability.Request{Text: "build it"})

	require.True(t, out.Success, out.Err)
	assert.Contains(t, out.Payload, "Step 1 (planning/break_down): ✗ step panicked: boom")
	assert.Contains(t, out.Payload, "Step 2 (codegen/generate): ✓")
	require.Len(t, codegen.requests, 1)
}

func TestInvokeModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	adapter := New(model, newRegistry())

	out := adapter.Invoke(context.Background(), capability.Request{Text: "build it"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Err, "workflow analysis failed")
	assert.Contains(t, out.Err, "rate limited")
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Here is the plan: {"a":1} hope it helps`, `{"a":1}`},
		{"no object", "no structure here", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestResolveTag(t *testing.T) {
	cases := map[string]capability.Tag{
		"repository": capability.TagRepository,
		"GitHub":     capability.TagRepository,
		"codegen":    capability.TagCodegen,
		"code":       capability.TagCodegen,
		"planning":   capability.TagPlanning,
		"database":   capability.TagDatabase,
		"sql":        capability.TagDatabase,
		"chat":       capability.TagChat,
		"workflow":   capability.TagChat,
		"email":      capability.TagChat,
		"":           capability.TagChat,
	}
	for service, want := range cases {
		assert.Equal(t, want, resolveTag(service), "service %q", service)
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "first line", excerpt("first line\nsecond line"))
	assert.Equal(t, strings.Repeat("x", 100)+"...", excerpt(strings.Repeat("x", 150)))
	assert.Equal(t, "short", excerpt("  short  "))
}
