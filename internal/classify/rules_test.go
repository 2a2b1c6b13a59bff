package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
)

const rulesYAML = `
rules:
  - tag: repository
    confidence: 0.85
    keywords: [gitlab, repository]
    operations:
      - name: create_repository
        keywords: [create]
  - tag: database
    confidence: 0.95
    keywords: [warehouse, sql]
    operations:
      - name: database_query
`

func TestParseRules(t *testing.T) {
	rules, err := parseRules([]byte(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, capability.TagRepository, rules[0].tag)
	assert.Equal(t, 0.85, rules[0].confidence)
	assert.Equal(t, []string{"gitlab", "repository"}, rules[0].keywords)
	require.Len(t, rules[0].operations, 1)
	assert.Equal(t, "create_repository", rules[0].operations[0].name)

	assert.Equal(t, capability.TagDatabase, rules[1].tag)
	assert.Empty(t, rules[1].operations[0].keywords)
}

func TestParseRulesEmpty(t *testing.T) {
	_, err := parseRules([]byte("rules: []"))
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestParseRulesRejectsChatTag(t *testing.T) {
	_, err := parseRules([]byte("rules:\n  - tag: chat\n    keywords: [hi]"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestParseRulesRejectsUnknownTag(t *testing.T) {
	_, err := parseRules([]byte("rules:\n  - tag: quantum\n    keywords: [qubit]"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestParseRulesRejectsNoKeywords(t *testing.T) {
	_, err := parseRules([]byte("rules:\n  - tag: planning\n    confidence: 0.7"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestParseRulesClampsConfidence(t *testing.T) {
	rules, err := parseRules([]byte("rules:\n  - tag: planning\n    confidence: 3.5\n    keywords: [roadmap]"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rules[0].confidence)

	rules, err = parseRules([]byte("rules:\n  - tag: planning\n    keywords: [roadmap]"))
	require.NoError(t, err)
	assert.Equal(t, 0.7, rules[0].confidence)
}

func TestParseRulesLowersKeywords(t *testing.T) {
	rules, err := parseRules([]byte("rules:\n  - tag: workflow\n    keywords: [Automate, PIPELINE]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"automate", "pipeline"}, rules[0].keywords)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0600))

	c := NewKeywordClassifier()
	require.Equal(t, capability.TagChat, c.Classify("check the warehouse").Primary)

	require.NoError(t, c.Reload(path))
	cls := c.Classify("check the warehouse")
	assert.Equal(t, capability.TagDatabase, cls.Primary)
	assert.Equal(t, 0.95, cls.Confidence)

	// Built-in keywords dropped by the override no longer match.
	assert.Equal(t, capability.TagChat, c.Classify("automate this workflow").Primary)

	c.ResetRules()
	assert.Equal(t, capability.TagWorkflow, c.Classify("automate this workflow").Primary)
}

func TestReloadMissingFile(t *testing.T) {
	c := NewKeywordClassifier()
	err := c.Reload(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	// Table unchanged.
	assert.Equal(t, capability.TagRepository, c.Classify("fork the repo").Primary)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0600))

	c := NewKeywordClassifier()
	require.NoError(t, c.Reload(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Watch(ctx, path, zap.NewNop())
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)

	updated := "rules:\n  - tag: planning\n    confidence: 0.99\n    keywords: [blueprint]\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Classify("draft a blueprint").Primary == capability.TagPlanning {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, capability.TagPlanning, c.Classify("draft a blueprint").Primary)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatchKeepsTableOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0600))

	c := NewKeywordClassifier()
	require.NoError(t, c.Reload(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Watch(ctx, path, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0600))
	time.Sleep(200 * time.Millisecond)

	// Previous table still in effect.
	assert.Equal(t, capability.TagDatabase, c.Classify("sql please").Primary)
}
