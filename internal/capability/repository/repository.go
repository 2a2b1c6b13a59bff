// Package repository implements the GitHub capability: repository
// creation, branch management and repository listing, selected from the
// request text.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
)

// rateLimitBuffer is the minimum remaining core quota required before
// an operation is attempted.
const rateLimitBuffer = 10

const listLimit = 10

// Adapter serves repository management requests against the GitHub API.
type Adapter struct {
	client *github.Client
	retry  *RetryConfig
	log    *logging.Logger
	now    func() time.Time
}

var _ capability.Adapter = (*Adapter)(nil)

// New creates the repository adapter. Without a token the adapter is
// constructed unavailable so a bare deployment still starts.
func New(ctx context.Context, token config.Secret, log *logging.Logger) *Adapter {
	var client *github.Client
	if token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	}
	return NewWithClient(client, log)
}

// NewWithClient creates the adapter around a preconfigured client.
// Useful for GitHub Enterprise base URLs and for tests.
func NewWithClient(client *github.Client, log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.NewNop()
	}
	return &Adapter{
		client: client,
		retry:  DefaultRetryConfig(),
		log:    log,
		now:    time.Now,
	}
}

// Tag returns the repository capability tag.
func (a *Adapter) Tag() capability.Tag { return capability.TagRepository }

// Available reports whether a GitHub client is configured.
func (a *Adapter) Available(_ context.Context) bool { return a.client != nil }

// Invoke selects and executes a GitHub operation for the request.
func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	op := selectOperation(req.Text)
	if a.client == nil {
		return capability.Failure(string(op), "github service is not configured")
	}
	if err := a.checkRateLimit(ctx); err != nil {
		return capability.Failure(string(op), err.Error())
	}

	switch op {
	case opCreateRepository:
		return a.createRepository(ctx, req)
	case opManageBranches:
		return a.manageBranches(ctx, req)
	default:
		return a.listRepositories(ctx)
	}
}

// checkRateLimit refuses work when the remaining core quota is at or
// below the buffer. The precheck is a single call, not retried.
func (a *Adapter) checkRateLimit(ctx context.Context) error {
	limits, _, err := a.client.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %v", err)
	}
	remaining := limits.GetCore().Remaining
	if remaining <= rateLimitBuffer {
		return fmt.Errorf("rate limit exceeded, %d remaining", remaining)
	}
	return nil
}

func (a *Adapter) createRepository(ctx context.Context, req capability.Request) capability.Outcome {
	name := parseRepoName(req.Text)
	if name == "" {
		name = fmt.Sprintf("agent-repo-%d", a.now().Unix())
	}
	private := !wantsPublic(req.Text)

	newRepo := &github.Repository{
		Name:        github.String(name),
		Description: github.String(fmt.Sprintf("Created via dispatchd on %s", a.now().Format("2006-01-02"))),
		Private:     github.Bool(private),
		AutoInit:    github.Bool(true),
	}

	var repo *github.Repository
	_, err := retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		repo, resp, callErr = a.client.Repositories.Create(ctx, "", newRepo)
		return resp, callErr
	})
	if err != nil {
		return capability.Failure(string(opCreateRepository), fmt.Sprintf("creating repository %q: %v", name, err))
	}

	visibility := "public"
	if repo.GetPrivate() {
		visibility = "private"
	}
	payload := fmt.Sprintf("✅ Repository '%s' created successfully!\n\nClone URL: %s\nVisibility: %s",
		repo.GetName(), repo.GetCloneURL(), visibility)

	return capability.Outcome{
		Success:   true,
		Operation: string(opCreateRepository),
		Payload:   payload,
		Data: map[string]any{
			"name":      repo.GetName(),
			"url":       repo.GetHTMLURL(),
			"clone_url": repo.GetCloneURL(),
			"private":   repo.GetPrivate(),
		},
	}
}

func (a *Adapter) manageBranches(ctx context.Context, req capability.Request) capability.Outcome {
	branch := parseBranchName(req.Text)
	if branch == "" {
		branch = fmt.Sprintf("feature-%d", a.now().Unix())
	}

	var user *github.User
	_, err := retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		user, resp, callErr = a.client.Users.Get(ctx, "")
		return resp, callErr
	})
	if err != nil {
		return capability.Failure(string(opManageBranches), fmt.Sprintf("resolving authenticated user: %v", err))
	}
	owner := user.GetLogin()

	repoName := parseTargetRepo(req.Text)
	if repoName == "" {
		repoName, err = a.latestRepository(ctx)
		if err != nil {
			return capability.Failure(string(opManageBranches), err.Error())
		}
	}

	var repo *github.Repository
	_, err = retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		repo, resp, callErr = a.client.Repositories.Get(ctx, owner, repoName)
		return resp, callErr
	})
	if err != nil {
		return capability.Failure(string(opManageBranches), fmt.Sprintf("loading repository %q: %v", repoName, err))
	}
	source := repo.GetDefaultBranch()
	if source == "" {
		source = "main"
	}

	var headRef *github.Reference
	_, err = retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		headRef, resp, callErr = a.client.Git.GetRef(ctx, owner, repoName, "heads/"+source)
		return resp, callErr
	})
	if err != nil {
		return capability.Failure(string(opManageBranches), fmt.Sprintf("reading head of %q: %v", source, err))
	}

	newRef := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(headRef.GetObject().GetSHA())},
	}
	_, err = retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		_, resp, callErr = a.client.Git.CreateRef(ctx, owner, repoName, newRef)
		return resp, callErr
	})
	if err != nil {
		return capability.Failure(string(opManageBranches), fmt.Sprintf("creating branch %q: %v", branch, err))
	}

	payload := fmt.Sprintf("✅ Branch '%s' created in '%s'\nSource branch: %s", branch, repoName, source)
	return capability.Outcome{
		Success:   true,
		Operation: string(opManageBranches),
		Payload:   payload,
		Data: map[string]any{
			"branch": branch,
			"repo":   repoName,
			"source": source,
		},
	}
}

func (a *Adapter) listRepositories(ctx context.Context) capability.Outcome {
	repos, err := a.recentRepositories(ctx, listLimit)
	if err != nil {
		return capability.Failure(string(opListRepositories), err.Error())
	}
	if len(repos) == 0 {
		return capability.Outcome{
			Success:   true,
			Operation: string(opListRepositories),
			Payload:   "✅ Your repositories: none found",
			Data:      map[string]any{"count": 0},
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Your repositories (%d most recently updated):\n", len(repos))
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.GetName())
		visibility := "public"
		if repo.GetPrivate() {
			visibility = "private"
		}
		description := repo.GetDescription()
		if description == "" {
			description = "No description"
		}
		fmt.Fprintf(&b, "\n- %s [%s]: %s", repo.GetName(), visibility, description)
	}

	return capability.Outcome{
		Success:   true,
		Operation: string(opListRepositories),
		Payload:   b.String(),
		Data: map[string]any{
			"count": len(repos),
			"names": names,
		},
	}
}

// recentRepositories lists the authenticated user's repositories,
// most recently updated first.
func (a *Adapter) recentRepositories(ctx context.Context, limit int) ([]*github.Repository, error) {
	opts := &github.RepositoryListOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: limit},
	}
	var repos []*github.Repository
	_, err := retryCall(ctx, a.retry, a.log, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		repos, resp, callErr = a.client.Repositories.List(ctx, "", opts)
		return resp, callErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %v", err)
	}
	if len(repos) > limit {
		repos = repos[:limit]
	}
	return repos, nil
}

// latestRepository returns the name of the most recently updated
// repository, the branch target when the request names none.
func (a *Adapter) latestRepository(ctx context.Context) (string, error) {
	repos, err := a.recentRepositories(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(repos) == 0 {
		return "", fmt.Errorf("no repositories found to branch in")
	}
	return repos[0].GetName(), nil
}
