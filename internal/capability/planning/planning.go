// Package planning implements the task planning capability: full plans
// and task breakdowns produced by a chat model.
package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
)

const (
	opCreatePlan    = "create_plan"
	opBreakDownTask = "break_down_task"
)

// Adapter serves planning requests through an llm.Model.
type Adapter struct {
	model llm.Model
}

var _ capability.Adapter = (*Adapter)(nil)

// New creates the planning adapter. A nil model leaves it unavailable.
func New(model llm.Model) *Adapter {
	return &Adapter{model: model}
}

// Tag returns the planning capability tag.
func (a *Adapter) Tag() capability.Tag { return capability.TagPlanning }

// Available reports whether a model is configured.
func (a *Adapter) Available(_ context.Context) bool { return a.model != nil }

// Invoke creates a plan or a task breakdown for the request.
func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	op := selectOperation(req.Text)
	if a.model == nil {
		return capability.Failure(op, "planning service is not configured")
	}

	complexity := detectComplexity(req.Text)
	reply, err := a.model.Complete(ctx, llm.Request{
		System: systemPrompt(op, complexity),
		Prompt: userPrompt(op, req),
	})
	if err != nil {
		return capability.Failure(op, err.Error())
	}

	header := "✅ Plan created:"
	if op == opBreakDownTask {
		header = "✅ Task breakdown:"
	}
	return capability.Outcome{
		Success:   true,
		Operation: op,
		Payload:   header + "\n\n" + reply,
		Data: map[string]any{
			"complexity": complexity,
		},
	}
}

// selectOperation picks breakdown for decomposition phrasings, plan
// creation otherwise.
func selectOperation(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "break down") ||
		strings.Contains(lower, "breakdown") ||
		strings.Contains(lower, "split") {
		return opBreakDownTask
	}
	return opCreatePlan
}

// detectComplexity reads the requested plan depth from the text.
func detectComplexity(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "simple", "quick", "easy", "small", "basic"):
		return "simple"
	case containsAny(lower, "complex", "large", "enterprise", "production", "scalable", "detailed"):
		return "complex"
	default:
		return "medium"
	}
}

var complexitySteps = map[string]string{
	"simple":  "Keep it short: 3 to 4 concrete steps.",
	"medium":  "Provide 5 to 7 concrete steps.",
	"complex": "Provide 8 to 12 detailed steps, including risks and mitigations.",
}

func systemPrompt(op, complexity string) string {
	if op == opBreakDownTask {
		return fmt.Sprintf(`You are a task decomposition expert. Break the task into ordered subtasks. %s

For each step provide a clear description, prerequisites and an estimated effort. Format as a structured breakdown that is easy to follow.`, complexitySteps[complexity])
	}
	return fmt.Sprintf(`You are an expert planning agent. Create a detailed, actionable plan for the stated goal. %s

Cover requirements, step-by-step actions, resources and success criteria. Make the plan specific, measurable and achievable.`, complexitySteps[complexity])
}

func userPrompt(op string, req capability.Request) string {
	var b strings.Builder
	if op == opBreakDownTask {
		b.WriteString("Break down this task: ")
	} else {
		b.WriteString("Goal: ")
	}
	b.WriteString(req.Text)
	if req.Context != "" {
		b.WriteString("\n\nConversation context:\n")
		b.WriteString(req.Context)
	}
	return b.String()
}

func containsAny(lower string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
