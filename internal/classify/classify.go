// Package classify turns free-text requests into capability routes.
//
// The default classifier is a keyword pass: ordered rules, each binding a
// set of keywords to a capability tag and a confidence floor. It is pure,
// total and deterministic, which keeps routing auditable; smarter
// classifiers can be swapped in behind the Classifier interface.
package classify

import (
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
)

// maxTextLength caps the classified input. Longer requests are truncated
// for matching only; dispatch still sees the full text.
const maxTextLength = 8192

// Classification is the routing decision for one request.
type Classification struct {
	// Primary is the capability that handles the request first.
	Primary capability.Tag `json:"primary"`

	// Confidence is the classifier's confidence in Primary, in [0,1].
	// It starts at 0.5 for the chat fallback and only ever rises as
	// rules match.
	Confidence float64 `json:"confidence"`

	// Secondary are additional capabilities that also matched, in
	// canonical rule order. Never contains Primary, never duplicates.
	Secondary []capability.Tag `json:"secondary,omitempty"`

	// Operations are the declared operations detected by finer keyword
	// checks. They feed the audit trail only; routing ignores them.
	Operations []string `json:"operations,omitempty"`
}

// Routes returns the full route list, primary first then secondaries in
// classification order.
func (c Classification) Routes() []capability.Tag {
	routes := make([]capability.Tag, 0, 1+len(c.Secondary))
	routes = append(routes, c.Primary)
	routes = append(routes, c.Secondary...)
	return routes
}

// Classifier turns request text into a Classification. Implementations
// must be pure: same text, same result, no side effects, no errors.
type Classifier interface {
	Classify(text string) Classification
}

// opRule declares an operation when its keywords match. An empty keyword
// list declares the operation whenever the parent rule matches.
type opRule struct {
	name     string
	keywords []string
}

// rule binds keywords to a capability tag with a confidence floor.
type rule struct {
	tag        capability.Tag
	confidence float64
	keywords   []string
	operations []opRule
}

// KeywordClassifier is the default keyword classifier. The rule table is
// swapped atomically so Reload never disturbs in-flight Classify calls.
type KeywordClassifier struct {
	rules atomic.Pointer[[]rule]
}

// NewKeywordClassifier creates a classifier with the built-in rule table.
func NewKeywordClassifier() *KeywordClassifier {
	c := &KeywordClassifier{}
	rules := defaultRules()
	c.rules.Store(&rules)
	return c
}

// defaultRules returns the built-in rule table in canonical order.
// Confidence floors reflect keyword specificity: database keywords are
// the least ambiguous, planning keywords the most.
func defaultRules() []rule {
	return []rule{
		{
			tag:        capability.TagRepository,
			confidence: 0.8,
			keywords:   []string{"github", "repository", "repo", "branch", "git", "clone", "fork"},
			operations: []opRule{
				{name: "create_repository", keywords: []string{"create", "new"}},
				{name: "manage_branches", keywords: []string{"branch"}},
				{name: "list_repositories", keywords: []string{"list", "show", "get"}},
			},
		},
		{
			tag:        capability.TagCodegen,
			confidence: 0.8,
			keywords:   []string{"code", "generate", "program", "function", "class", "script", "algorithm"},
		},
		{
			tag:        capability.TagPlanning,
			confidence: 0.7,
			keywords:   []string{"plan", "strategy", "steps", "how to", "break down", "organize"},
		},
		{
			tag:        capability.TagDatabase,
			confidence: 0.9,
			keywords:   []string{"mysql", "postgres", "database", "sql", "query", "table", "select", "insert", "update", "delete"},
			operations: []opRule{
				{name: "database_query"},
			},
		},
		{
			tag:        capability.TagWorkflow,
			confidence: 0.8,
			keywords:   []string{"workflow", "intelligent", "automate", "integrate", "combine services"},
		},
	}
}

// Classify scans the rule table in order. The first matching rule while
// the primary is still chat becomes the primary; every later matching
// rule joins the secondary list. Confidence only ever rises to the
// highest matched floor.
func (c *KeywordClassifier) Classify(text string) Classification {
	rules := *c.rules.Load()

	lowered := strings.ToLower(text)
	if len(lowered) > maxTextLength {
		lowered = lowered[:maxTextLength]
	}

	cls := Classification{
		Primary:    capability.TagChat,
		Confidence: 0.5,
	}

	seenTags := make(map[capability.Tag]bool)
	seenOps := make(map[string]bool)

	for _, r := range rules {
		if !matchAny(lowered, r.keywords) {
			continue
		}

		if cls.Primary == capability.TagChat {
			cls.Primary = r.tag
			seenTags[r.tag] = true
		} else if !seenTags[r.tag] {
			cls.Secondary = append(cls.Secondary, r.tag)
			seenTags[r.tag] = true
		}

		if r.confidence > cls.Confidence {
			cls.Confidence = r.confidence
		}

		for _, op := range r.operations {
			if seenOps[op.name] {
				continue
			}
			if len(op.keywords) == 0 || matchAny(lowered, op.keywords) {
				cls.Operations = append(cls.Operations, op.name)
				seenOps[op.name] = true
			}
		}
	}

	return cls
}

// matchAny reports whether any keyword is a substring of the lowered text.
func matchAny(lowered string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

var _ Classifier = (*KeywordClassifier)(nil)
