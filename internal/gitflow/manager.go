// Package gitflow implements the git workflow manager: a reliable overlay
// so a pipeline run appears as one feature branch ending in a pull
// request, with optional intermediate commits. Local git operations use
// go-git/go-git's worktree APIs; PR creation uses the standard
// oauth2.StaticTokenSource -> oauth2.NewClient -> github.NewClient chain.
package gitflow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githubtransport "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v28/github"
	"golang.org/x/oauth2"

	"github.com/pipectl/pipectl/internal/models"
)

// Config configures a Manager. Owner/Repo/Token are only required when
// DryRun is false.
type Config struct {
	RepoPath     string
	BaseBranch   string
	BranchPrefix string
	RemoteName   string
	Owner        string
	Repo         string
	Token        string
	AuthorName   string
	AuthorEmail  string
	DryRun       bool
}

// Manager is the C5 git workflow overlay, one per process, shared across
// every job whose pipeline opted into a git workflow.
type Manager struct {
	cfg    Config
	repo   *git.Repository
	client *github.Client
}

// New opens the local repository at cfg.RepoPath. The GitHub client is
// constructed lazily on first use, deferring its construction until a
// token is actually needed.
func New(cfg Config) (*Manager, error) {
	repo, err := git.PlainOpen(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("gitflow: open repo at %s: %w", cfg.RepoPath, err)
	}
	if cfg.RemoteName == "" {
		cfg.RemoteName = "origin"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "pipectl"
	}
	return &Manager{cfg: cfg, repo: repo}, nil
}

func (m *Manager) githubClient(ctx context.Context) *github.Client {
	if m.client != nil {
		return m.client
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: m.cfg.Token})
	subCtx := context.WithValue(ctx, oauth2.HTTPClient, http.DefaultClient)
	tc := oauth2.NewClient(subCtx, ts)
	m.client = github.NewClient(tc)
	return m.client
}

// CreateJobBranch generates and checks out a branch named
// "<prefix>/<pipelineId>-<jobId>-<epochSec>" from the base branch.
// Failure here is fatal to the job.
func (m *Manager) CreateJobBranch(job *models.Job, now time.Time) (string, error) {
	branchName := fmt.Sprintf("%s/%s-%s-%d", m.cfg.BranchPrefix, job.PipelineID, job.ID, now.Unix())

	wt, err := m.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("gitflow: worktree: %w", err)
	}

	baseRef := plumbing.NewBranchReferenceName(m.cfg.BaseBranch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: baseRef}); err != nil {
		return "", fmt.Errorf("gitflow: checkout base branch %s: %w", m.cfg.BaseBranch, err)
	}

	newRef := plumbing.NewBranchReferenceName(branchName)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: newRef, Create: true}); err != nil {
		return "", fmt.Errorf("gitflow: create branch %s: %w", branchName, err)
	}

	return branchName, nil
}

// Commit stages and commits all tracked changes; a no-op when the tree is
// clean.
func (m *Manager) Commit(message string) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitflow: worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("gitflow: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	if _, err := wt.Add("."); err != nil {
		return fmt.Errorf("gitflow: stage changes: %w", err)
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  m.cfg.AuthorName,
			Email: m.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("gitflow: commit: %w", err)
	}
	return nil
}

// PullRequestInfo is the minimal PR content the caller supplies.
type PullRequestInfo struct {
	Title string
	Body  string
}

// PushAndCreatePR pushes branchName to the configured remote and opens a
// PR against the base branch. In DryRun mode it returns a synthetic URL
// without touching the remote or GitHub; nothing is logged. Push/PR
// failures are returned to the caller, which does not fail the job on
// them and does not log them.
func (m *Manager) PushAndCreatePR(ctx context.Context, job *models.Job, branchName string, info PullRequestInfo) (string, error) {
	if m.cfg.DryRun {
		return fmt.Sprintf("https://dry-run.invalid/pr/%s", job.ID), nil
	}

	pushOpts := &git.PushOptions{
		RemoteName: m.cfg.RemoteName,
		RefSpecs: []plumbing.RefSpec{
			plumbing.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branchName, branchName)),
		},
	}
	if m.cfg.Token != "" {
		pushOpts.Auth = &githubtransport.BasicAuth{Username: "x-access-token", Password: m.cfg.Token}
	}
	if err := m.repo.PushContext(ctx, pushOpts); err != nil && err != git.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("gitflow: push %s: %w", branchName, err)
	}

	client := m.githubClient(ctx)
	pr, _, err := client.PullRequests.Create(ctx, m.cfg.Owner, m.cfg.Repo, &github.NewPullRequest{
		Title: github.String(info.Title),
		Body:  github.String(info.Body),
		Head:  github.String(branchName),
		Base:  github.String(m.cfg.BaseBranch),
	})
	if err != nil {
		return "", fmt.Errorf("gitflow: create pull request: %w", err)
	}

	return pr.GetHTMLURL(), nil
}

// CleanupOnFailure returns the working tree to the base branch. The
// abandoned branch is left in place so it can be inspected manually.
func (m *Manager) CleanupOnFailure() error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitflow: worktree: %w", err)
	}
	baseRef := plumbing.NewBranchReferenceName(m.cfg.BaseBranch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: baseRef, Force: true}); err != nil {
		return fmt.Errorf("gitflow: checkout base branch %s: %w", m.cfg.BaseBranch, err)
	}
	return nil
}

// PRTitleFor builds a default PR title for a job when the pipeline does
// not supply one.
func PRTitleFor(job *models.Job) string {
	return fmt.Sprintf("pipectl: %s run %s", job.PipelineID, strings.TrimSpace(job.ID))
}
