// Package memory holds the short-term conversation context used to
// ground follow-up requests. Each session owns an isolated bounded
// window of request/response turns; nothing is shared across sessions
// and nothing here is durable (the execution log is the durable side).
package memory

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultTurns is the window bound used when none is configured.
const DefaultTurns = 10

// Turn is one request/response exchange.
type Turn struct {
	Request  string
	Response string
}

// Window is a bounded conversation history for a single session.
// Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	turns []Turn
	max   int
}

// NewWindow creates a window bounded at max turns. Non-positive max
// falls back to DefaultTurns.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = DefaultTurns
	}
	return &Window{max: max}
}

// Append records a turn, evicting the oldest once the bound is reached.
func (w *Window) Append(request, response string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, Turn{Request: request, Response: response})
	if len(w.turns) > w.max {
		w.turns = w.turns[len(w.turns)-w.max:]
	}
}

// Len returns the number of retained turns.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Recent renders the last n turns, oldest first, as alternating
// "User:" and "Assistant:" lines. Returns "" when the window is empty
// or n is non-positive.
func (w *Window) Recent(n int) string {
	if n <= 0 {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.turns) == 0 {
		return ""
	}
	start := len(w.turns) - n
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for i, t := range w.turns[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s", t.Request, t.Response)
	}
	return b.String()
}

// Manager hands out per-session windows, creating them lazily. Windows
// are never shared between session IDs.
type Manager struct {
	mu      sync.Mutex
	windows map[string]*Window
	max     int
}

// NewManager creates a manager whose windows are bounded at max turns.
func NewManager(max int) *Manager {
	if max <= 0 {
		max = DefaultTurns
	}
	return &Manager{
		windows: make(map[string]*Window),
		max:     max,
	}
}

// Window returns the window for the session, creating it on first use.
func (m *Manager) Window(sessionID string) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[sessionID]
	if !ok {
		w = NewWindow(m.max)
		m.windows[sessionID] = w
	}
	return w
}

// Forget drops the window for the session, if any.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, sessionID)
}

// Sessions returns the number of sessions with a live window.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
