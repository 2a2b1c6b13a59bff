package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
)

func TestClassifyFallback(t *testing.T) {
	c := NewKeywordClassifier()

	cls := c.Classify("hello there")
	assert.Equal(t, capability.TagChat, cls.Primary)
	assert.Equal(t, 0.5, cls.Confidence)
	assert.Empty(t, cls.Secondary)
	assert.Empty(t, cls.Operations)
}

func TestClassifyEmptyInput(t *testing.T) {
	c := NewKeywordClassifier()

	for _, text := range []string{"", "   ", "\n\t"} {
		cls := c.Classify(text)
		assert.Equal(t, capability.TagChat, cls.Primary, "input %q", text)
		assert.Equal(t, 0.5, cls.Confidence)
		assert.Empty(t, cls.Operations)
	}
}

func TestClassifyRepositoryCreate(t *testing.T) {
	c := NewKeywordClassifier()

	cls := c.Classify("create a repository called demo-app")
	assert.Equal(t, capability.TagRepository, cls.Primary)
	assert.Equal(t, 0.8, cls.Confidence)
	assert.Contains(t, cls.Operations, "create_repository")
	assert.Empty(t, cls.Secondary)
}

func TestClassifyPrimaryAndSecondary(t *testing.T) {
	c := NewKeywordClassifier()

	cls := c.Classify("generate a python function to sort a list and also plan how to test it")
	assert.Equal(t, capability.TagCodegen, cls.Primary)
	assert.Equal(t, []capability.Tag{capability.TagPlanning}, cls.Secondary)
	assert.Equal(t, 0.8, cls.Confidence)
}

func TestClassifyCanonicalOrderWins(t *testing.T) {
	c := NewKeywordClassifier()

	// Repository keywords appear later in the text but earlier in the
	// rule table, so repository stays primary.
	cls := c.Classify("plan the steps and then fork the github repo")
	assert.Equal(t, capability.TagRepository, cls.Primary)
	assert.Equal(t, []capability.Tag{capability.TagPlanning}, cls.Secondary)
}

func TestClassifyConfidenceMonotonic(t *testing.T) {
	c := NewKeywordClassifier()

	// Planning alone floors at 0.7; adding database keywords must raise,
	// never lower, the confidence.
	planning := c.Classify("plan my week")
	assert.Equal(t, 0.7, planning.Confidence)

	both := c.Classify("plan a sql query against the users table")
	assert.Equal(t, capability.TagPlanning, both.Primary)
	assert.Equal(t, []capability.Tag{capability.TagDatabase}, both.Secondary)
	assert.Equal(t, 0.9, both.Confidence)
}

func TestClassifyDatabaseOperations(t *testing.T) {
	c := NewKeywordClassifier()

	cls := c.Classify("show all rows from the customers table")
	assert.Equal(t, capability.TagDatabase, cls.Primary)
	assert.Equal(t, 0.9, cls.Confidence)
	assert.Contains(t, cls.Operations, "database_query")
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := NewKeywordClassifier()

	upper := c.Classify("CREATE A GITHUB REPOSITORY")
	lower := c.Classify("create a github repository")
	assert.Equal(t, lower, upper)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewKeywordClassifier()

	text := "generate code to automate a database workflow plan"
	first := c.Classify(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(text))
	}
}

func TestClassifyAllSpecialized(t *testing.T) {
	c := NewKeywordClassifier()

	cls := c.Classify("use github code plan sql workflow")
	assert.Equal(t, capability.TagRepository, cls.Primary)
	assert.Equal(t, []capability.Tag{
		capability.TagCodegen,
		capability.TagPlanning,
		capability.TagDatabase,
		capability.TagWorkflow,
	}, cls.Secondary)
	assert.Equal(t, 0.9, cls.Confidence)
}

func TestClassifyDeclaredOpsIndependent(t *testing.T) {
	c := NewKeywordClassifier()

	// "create a new branch" hits both the create and branch checks.
	cls := c.Classify("create a new branch in my repo")
	assert.Contains(t, cls.Operations, "create_repository")
	assert.Contains(t, cls.Operations, "manage_branches")
}

func TestRoutes(t *testing.T) {
	cls := Classification{
		Primary:   capability.TagCodegen,
		Secondary: []capability.Tag{capability.TagPlanning, capability.TagWorkflow},
	}
	assert.Equal(t, []capability.Tag{
		capability.TagCodegen,
		capability.TagPlanning,
		capability.TagWorkflow,
	}, cls.Routes())
}

func TestClassifyLongInputTruncated(t *testing.T) {
	c := NewKeywordClassifier()

	// Keyword buried past the cap is not matched.
	pad := make([]byte, maxTextLength)
	for i := range pad {
		pad[i] = 'x'
	}
	cls := c.Classify(string(pad) + " github")
	assert.Equal(t, capability.TagChat, cls.Primary)
}

func TestClassifyDoesNotMutateState(t *testing.T) {
	c := NewKeywordClassifier()

	require.Equal(t, capability.TagRepository, c.Classify("fork the repo").Primary)
	// A second unrelated call still sees the pristine table.
	assert.Equal(t, capability.TagChat, c.Classify("good morning").Primary)
}
