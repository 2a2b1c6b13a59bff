package codegen

import (
	"fmt"
	"strings"
)

// requestSpec is the generation spec derived from the request text.
type requestSpec struct {
	Language     string
	Style        string
	IncludeTests bool
}

// languageKeywords maps request tokens to the canonical language name.
// Scanned in order; "go" sits last so that explicit language names win
// over the ambiguous verb.
var languageKeywords = []struct{ keyword, name string }{
	{"python", "python"},
	{"golang", "go"},
	{"javascript", "javascript"},
	{"typescript", "typescript"},
	{"java", "java"},
	{"rust", "rust"},
	{"ruby", "ruby"},
	{"php", "php"},
	{"sql", "sql"},
	{"bash", "bash"},
	{"shell", "bash"},
	{"cpp", "c++"},
	{"csharp", "c#"},
	{"go", "go"},
}

// analyzeRequest derives language, style and test inclusion from the
// request text. Defaults: python, clean style, no tests.
func analyzeRequest(text string) requestSpec {
	lower := strings.ToLower(text)
	return requestSpec{
		Language:     detectLanguage(lower),
		Style:        detectStyle(lower),
		IncludeTests: wantsTests(lower),
	}
}

func detectLanguage(lower string) string {
	// "c++" and "c#" never survive word splitting, check them directly.
	if strings.Contains(lower, "c++") {
		return "c++"
	}
	if strings.Contains(lower, "c#") {
		return "c#"
	}

	words := requestWords(lower)
	for _, lang := range languageKeywords {
		if _, ok := words[lang.keyword]; ok {
			return lang.name
		}
	}
	return "python"
}

func detectStyle(lower string) string {
	switch {
	case hasAny(lower, "beginner", "simple", "learn", "explain"):
		return "beginner"
	case hasAny(lower, "production", "robust", "enterprise", "error handling"):
		return "production"
	case hasAny(lower, "performance", "fast", "optimize", "optimized", "efficient"):
		return "performance"
	default:
		return "clean"
	}
}

func wantsTests(lower string) bool {
	words := requestWords(lower)
	if _, ok := words["test"]; ok {
		return true
	}
	if _, ok := words["testing"]; ok {
		return true
	}
	if _, ok := words["tests"]; ok {
		return true
	}
	return strings.Contains(lower, "unit test") || strings.Contains(lower, "unittest")
}

var styleInstructions = map[string]string{
	"clean":       "Focus on clean, readable code with clear names and good structure.",
	"beginner":    "Write code that is easy to understand for beginners, with extensive comments.",
	"production":  "Write production-ready code with error handling, logging and best practices.",
	"performance": "Optimize for performance and efficiency, use appropriate algorithms and data structures.",
}

// systemPrompt renders the generation instructions for the spec.
func (s requestSpec) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s developer. %s\n\n", s.Language, styleInstructions[s.Style])
	fmt.Fprintf(&b, "Generate well-structured %s code for the user's request. Include clear comments, proper error handling and idiomatic conventions.", s.Language)
	if s.IncludeTests {
		b.WriteString("\nAlso include unit tests using an appropriate testing framework.")
	}
	b.WriteString("\n\nReturn only the code without additional explanations.")
	return b.String()
}

func hasAny(lower string, phrases ...string) bool {
	words := requestWords(lower)
	for _, phrase := range phrases {
		if strings.Contains(phrase, " ") {
			if strings.Contains(lower, phrase) {
				return true
			}
			continue
		}
		if _, ok := words[phrase]; ok {
			return true
		}
	}
	return false
}

func requestWords(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}
