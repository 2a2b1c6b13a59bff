// Package conversation implements the general-chat capability, the
// routing fallback for requests that match no specialized keywords.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
)

const systemPrompt = `You are a helpful assistant that can converse naturally and also manage repositories, generate code, create plans, query databases and run multi-step workflows through specialized capabilities.

Response style:
- Be helpful, informative and engaging.
- Reference the recent conversation when relevant.
- Suggest a specialized capability when the request would benefit from one.`

// Adapter serves general conversation. It is always available: with no
// model configured it answers with a capability overview instead of an
// LLM reply, so a bare deployment still responds to chat.
type Adapter struct {
	model llm.Model
}

var _ capability.Adapter = (*Adapter)(nil)

// New creates the conversation adapter. A nil model selects offline mode.
func New(model llm.Model) *Adapter {
	return &Adapter{model: model}
}

// Tag returns the chat capability tag.
func (a *Adapter) Tag() capability.Tag { return capability.TagChat }

// Available always reports true. Chat is the dispatch fallback and must
// answer even when no model is configured.
func (a *Adapter) Available(_ context.Context) bool { return true }

// Invoke answers the request, via the model when configured and with the
// offline overview otherwise.
func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	if a.model == nil {
		return capability.Outcome{
			Success:   true,
			Operation: "chat_offline",
			Payload:   offlineReply(req.Text),
			Data:      map[string]any{"mode": "offline"},
		}
	}

	prompt := buildPrompt(req)
	reply, err := a.model.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return capability.Failure("chat_reply", err.Error())
	}

	return capability.Outcome{
		Success:   true,
		Operation: "chat_reply",
		Payload:   reply,
		Data:      map[string]any{"mode": "model"},
	}
}

func buildPrompt(req capability.Request) string {
	var b strings.Builder
	if req.Context != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	b.WriteString("Current user request: ")
	b.WriteString(req.Text)
	return b.String()
}

func offlineReply(text string) string {
	return fmt.Sprintf(`Hello! I'm an assistant with several capabilities:

- Conversation: chat with short-term memory of this session
- Repositories: create repositories, manage branches, list repositories
- Code generation: generate code in multiple languages and styles
- Planning: create plans and break down complex tasks
- Workflows: coordinate several capabilities for one request

Example commands:
- "List my repositories"
- "Create a repository called 'my-project'"
- "Generate a Python function for sorting data"
- "Create a plan for building a web application"

Your request: %q

No language model is configured, so I can only describe what I would do. Set an API key to enable full conversational replies.`, text)
}
