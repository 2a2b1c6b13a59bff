package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectOperation(t *testing.T) {
	tests := []struct {
		text string
		want operation
	}{
		{"create a repository called demo-app", opCreateRepository},
		{"make a new repo for the experiment", opCreateRepository},
		{"create a branch called hotfix in demo-app", opManageBranches},
		{"show me the branches", opManageBranches},
		{"list my repositories", opListRepositories},
		{"show my repos", opListRepositories},
		{"what repositories do I have", opListRepositories},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, selectOperation(tt.text))
		})
	}
}

func TestParseRepoName(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"quoted single", "create a repository called 'demo-app'", "demo-app"},
		{"quoted double", `create a repo named "my.project"`, "my.project"},
		{"after called", "create a repository called demo-app", "demo-app"},
		{"after named", "new repo named backend-api please", "backend-api"},
		{"after repository", "create repository demo-app", "demo-app"},
		{"after repo", "create repo demo-app now", "demo-app"},
		{"trailing punctuation", "create a repository called demo-app.", "demo-app"},
		{"stopword not a name", "create a repository called the thing", ""},
		{"nothing plausible", "create something for me", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRepoName(tt.text))
		})
	}
}

func TestParseBranchName(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"after called", "create a branch called hotfix in demo-app", "hotfix"},
		{"after named", "branch named release-1.2 please", "release-1.2"},
		{"after branch", "create branch hotfix", "hotfix"},
		{"quoted", "create a branch 'wip-auth' in demo-app", "wip-auth"},
		{"no name", "create a branch in demo-app", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBranchName(tt.text))
		})
	}
}

func TestParseTargetRepo(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"after in", "create a branch called hotfix in demo-app", "demo-app"},
		{"after for", "new branch for backend-api", "backend-api"},
		{"after on", "create branch hotfix on demo-app", "demo-app"},
		{"absent", "create a branch called hotfix", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTargetRepo(tt.text))
		})
	}
}

func TestWantsPublic(t *testing.T) {
	assert.True(t, wantsPublic("create a public repository called site"))
	assert.False(t, wantsPublic("create a repository called site"))
	assert.False(t, wantsPublic("create a repo called publication-index"))
}
