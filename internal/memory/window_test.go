package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowRecent(t *testing.T) {
	w := NewWindow(5)
	assert.Equal(t, "", w.Recent(3))

	w.Append("hi", "hello")
	w.Append("create a repo", "done")

	got := w.Recent(5)
	want := "User: hi\nAssistant: hello\nUser: create a repo\nAssistant: done"
	assert.Equal(t, want, got)

	// Most recent turn last, limited to n.
	assert.Equal(t, "User: create a repo\nAssistant: done", w.Recent(1))
	assert.Equal(t, "", w.Recent(0))
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(2)
	w.Append("one", "1")
	w.Append("two", "2")
	w.Append("three", "3")

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, "User: two\nAssistant: 2\nUser: three\nAssistant: 3", w.Recent(10))
}

func TestWindowDefaultBound(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < DefaultTurns+4; i++ {
		w.Append(fmt.Sprintf("q%d", i), "a")
	}
	assert.Equal(t, DefaultTurns, w.Len())
}

func TestManagerIsolatesSessions(t *testing.T) {
	m := NewManager(5)

	m.Window("alpha").Append("alpha question", "alpha answer")
	m.Window("beta").Append("beta question", "beta answer")

	assert.Contains(t, m.Window("alpha").Recent(5), "alpha question")
	assert.NotContains(t, m.Window("alpha").Recent(5), "beta question")
	assert.Contains(t, m.Window("beta").Recent(5), "beta answer")
	assert.Equal(t, 2, m.Sessions())
}

func TestManagerReturnsSameWindow(t *testing.T) {
	m := NewManager(5)
	assert.Same(t, m.Window("s"), m.Window("s"))
}

func TestManagerForget(t *testing.T) {
	m := NewManager(5)
	m.Window("s").Append("q", "a")
	m.Forget("s")
	assert.Equal(t, 0, m.Window("s").Len())
}

func TestWindowConcurrentAppend(t *testing.T) {
	m := NewManager(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", n%2)
			for j := 0; j < 25; j++ {
				m.Window(session).Append("q", "a")
				_ = m.Window(session).Recent(5)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, m.Sessions())
	assert.Equal(t, 50, m.Window("s0").Len())
}
