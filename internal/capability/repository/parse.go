package repository

import (
	"regexp"
	"strings"
)

// operation is the GitHub operation selected from the request text.
type operation string

const (
	opCreateRepository operation = "create_repository"
	opManageBranches   operation = "manage_branches"
	opListRepositories operation = "list_repositories"
)

var (
	quotedNameRe = regexp.MustCompile(`['"]([A-Za-z0-9][A-Za-z0-9._-]*)['"]`)
	bareNameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// stopwords are tokens that follow a name keyword but are never names
// themselves.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "my": {}, "new": {},
	"repo": {}, "repository": {}, "repositories": {}, "repos": {},
	"branch": {}, "branches": {}, "called": {}, "named": {},
	"for": {}, "in": {}, "on": {}, "me": {}, "all": {}, "it": {},
}

// selectOperation picks the GitHub operation for the request. Branch
// requests are checked first: "create a branch" must not be mistaken
// for repository creation.
func selectOperation(text string) operation {
	lower := strings.ToLower(text)
	switch {
	case containsWord(lower, "branch") || containsWord(lower, "branches"):
		return opManageBranches
	case containsWord(lower, "create") || containsWord(lower, "new"):
		return opCreateRepository
	default:
		return opListRepositories
	}
}

// parseRepoName extracts the repository name to create: a quoted name,
// the word after "called"/"named"/"repository"/"repo", or empty when
// nothing plausible is present.
func parseRepoName(text string) string {
	if m := quotedNameRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return wordAfter(text, "called", "named", "repository", "repo")
}

// parseBranchName extracts the branch name: a quoted name or the word
// after "called"/"named"/"branch".
func parseBranchName(text string) string {
	if m := quotedNameRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return wordAfter(text, "called", "named", "branch")
}

// parseTargetRepo extracts the repository a branch operation targets:
// the word after "in"/"for"/"on". Empty means the caller should fall
// back to the most recently updated repository.
func parseTargetRepo(text string) string {
	return wordAfter(text, "in", "for", "on")
}

// wantsPublic reports whether the request asks for a public repository.
// Repositories are private unless asked otherwise.
func wantsPublic(text string) bool {
	return containsWord(strings.ToLower(text), "public")
}

// wordAfter returns the first plausible name token directly following
// one of the keywords.
func wordAfter(text string, keywords ...string) string {
	words := strings.Fields(text)
	for i, word := range words {
		if i == len(words)-1 {
			break
		}
		lower := strings.ToLower(strings.Trim(word, `.,:;!?'"`))
		for _, kw := range keywords {
			if lower != kw {
				continue
			}
			candidate := strings.Trim(words[i+1], `.,:;!?'"`)
			if isNameToken(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isNameToken(token string) bool {
	if token == "" || !bareNameRe.MatchString(token) {
		return false
	}
	_, stop := stopwords[strings.ToLower(token)]
	return !stop
}

func containsWord(lower, word string) bool {
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_' || r == '-')
	}) {
		if w == word {
			return true
		}
	}
	return false
}
