// Package workflow coordinates multi-capability requests. The model
// breaks the request into a step plan, each step is dispatched to the
// sibling adapter for its service, and the combined outcome reports
// per-step results.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
)

const opRunWorkflow = "run_workflow"

const planSystemPrompt = "You are a workflow coordinator. You break free-form " +
	"requests into executable steps across the services you are given and " +
	"respond with valid JSON only."

// plan is the model-produced execution plan.
type plan struct {
	Services        []string   `json:"services"`
	Steps           []planStep `json:"steps"`
	SuccessCriteria string     `json:"success_criteria"`
}

type planStep struct {
	Service string `json:"service"`
	Action  string `json:"action"`
	Input   string `json:"input"`
}

type stepResult struct {
	Service string `json:"service"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Adapter plans and executes composite workflows over the sibling
// adapters in the registry.
type Adapter struct {
	model    llm.Model
	registry *capability.Registry
}

func New(model llm.Model, registry *capability.Registry) *Adapter {
	return &Adapter{model: model, registry: registry}
}

func (a *Adapter) Tag() capability.Tag { return capability.TagWorkflow }

func (a *Adapter) Available(ctx context.Context) bool { return a.model != nil }

func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	if a.model == nil {
		return capability.Failure(opRunWorkflow, "workflow service is not configured")
	}

	reply, err := a.model.Complete(ctx, llm.Request{
		System: planSystemPrompt,
		Prompt: planPrompt(req.Text),
	})
	if err != nil {
		return capability.Failure(opRunWorkflow, fmt.Sprintf("workflow analysis failed: %v", err))
	}

	p, ok := parsePlan(reply)
	if !ok {
		p = fallbackPlan(req.Text)
	}

	results := a.execute(ctx, req, p)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	out := capability.Outcome{
		Success:   failed < len(results),
		Operation: opRunWorkflow,
		Payload:   renderResults(p, results),
		Data: map[string]any{
			"plan":  p,
			"steps": results,
		},
	}
	if !out.Success {
		out.Err = fmt.Sprintf("all %d workflow steps failed", len(results))
	}
	return out
}

func planPrompt(text string) string {
	return fmt.Sprintf(`Analyze the following workflow and break it down into executable steps.

Workflow description: %s

Available services:
- repository (GitHub repository and branch operations)
- codegen (source code generation)
- planning (task breakdown and planning)
- database (relational queries)
- chat (general conversation)

Return JSON with this exact shape:
{"services": ["..."], "steps": [{"service": "...", "action": "...", "input": "..."}], "success_criteria": "..."}`, text)
}

// parsePlan extracts the JSON plan from model output. Plans without
// steps are treated as unparseable.
func parsePlan(reply string) (plan, bool) {
	raw := extractJSON(reply)
	if raw == "" {
		return plan{}, false
	}
	var p plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return plan{}, false
	}
	if len(p.Steps) == 0 {
		return plan{}, false
	}
	return p, true
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object.
func extractJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+len("```"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fallbackPlan routes the whole request to chat when the model's plan
// is unusable. The workflow still runs; it just has one step.
func fallbackPlan(text string) plan {
	return plan{
		Services:        []string{string(capability.TagChat)},
		Steps:           []planStep{{Service: string(capability.TagChat), Action: "respond", Input: text}},
		SuccessCriteria: "request answered",
	}
}

func (a *Adapter) execute(ctx context.Context, req capability.Request, p plan) []stepResult {
	results := make([]stepResult, 0, len(p.Steps))
	for _, step := range p.Steps {
		tag := resolveTag(step.Service)

		action := step.Action
		if action == "" {
			action = "run"
		}

		input := step.Input
		if input == "" {
			input = req.Text
		}

		result := stepResult{Service: string(tag), Action: action}

		adapter, ok := a.lookup(tag)
		if !ok {
			result.Output = fmt.Sprintf("no adapter registered for %s", tag)
			results = append(results, result)
			continue
		}

		out := invokeStep(ctx, adapter, capability.Request{
			SessionID: req.SessionID,
			RequestID: req.RequestID,
			Text:      input,
			Context:   req.Context,
		})
		result.Success = out.Success
		if out.Success {
			result.Output = out.Payload
		} else {
			result.Output = out.Err
		}
		results = append(results, result)
	}
	return results
}

// resolveTag maps a plan's service name onto a capability tag. Unknown
// services and self-referencing workflow steps fall back to chat.
func resolveTag(service string) capability.Tag {
	switch strings.ToLower(strings.TrimSpace(service)) {
	case "repository", "repo", "github":
		return capability.TagRepository
	case "codegen", "code", "code_generation", "code-generation":
		return capability.TagCodegen
	case "planning", "plan":
		return capability.TagPlanning
	case "database", "db", "sql", "postgres", "mysql":
		return capability.TagDatabase
	default:
		return capability.TagChat
	}
}

func (a *Adapter) lookup(tag capability.Tag) (capability.Adapter, bool) {
	if a.registry == nil {
		return nil, false
	}
	return a.registry.Get(tag)
}

// invokeStep guards a sibling Invoke the same way the dispatcher does.
// One panicking step must not take the whole workflow down.
func invokeStep(ctx context.Context, adapter capability.Adapter, req capability.Request) (out capability.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = capability.Failure(opRunWorkflow, fmt.Sprintf("step panicked: %v", r))
		}
	}()
	return adapter.Invoke(ctx, req)
}

func renderResults(p plan, results []stepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Workflow executed (%d steps):\n\n", len(results))
	for i, r := range results {
		mark := "✓"
		if !r.Success {
			mark = "✗"
		}
		fmt.Fprintf(&b, "Step %d (%s/%s): %s %s\n", i+1, r.Service, r.Action, mark, excerpt(r.Output))
	}
	if p.SuccessCriteria != "" {
		fmt.Fprintf(&b, "\nSuccess criteria: %s", p.SuccessCriteria)
	}
	return b.String()
}

// excerpt trims a step output to its first line, capped at 100 runes.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const max = 100
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
