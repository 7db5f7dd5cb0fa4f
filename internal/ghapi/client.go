// Package ghapi wraps the read-only GitHub API calls the processors need:
// PR detail, commit detail, and release lookup.
//
// Calls are authenticated with the tracked repository's access token when it
// has one. Unauthenticated requests fall back to the shared 60 req/hour
// budget, so a missing token mostly means processing errors under load
// rather than silent degradation.
package ghapi

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"
	"github.com/rs/zerolog/log"
)

// Client wraps a go-github client for one repository context.
type Client struct {
	gh *github.Client
}

// NewClient creates a client. An empty token means unauthenticated access.
func NewClient(token string) *Client {
	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	} else {
		log.Warn().Msg("ghapi: no access token, using unauthenticated API (60 req/hour)")
	}
	return &Client{gh: gh}
}

// PullRequest fetches a PR by number.
func (c *Client) PullRequest(ctx context.Context, org, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, org, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR %s/%s#%d: %w", org, repo, number, err)
	}
	return pr, nil
}

// Commit fetches one commit with its file diffs.
func (c *Client) Commit(ctx context.Context, org, repo, sha string) (*github.RepositoryCommit, error) {
	commit, _, err := c.gh.Repositories.GetCommit(ctx, org, repo, sha, &github.ListOptions{PerPage: 30})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s/%s@%s: %w", org, repo, sha, err)
	}
	return commit, nil
}

// ReleaseByTag fetches a release by its tag name.
func (c *Client) ReleaseByTag(ctx context.Context, org, repo, tag string) (*github.RepositoryRelease, error) {
	release, _, err := c.gh.Repositories.GetReleaseByTag(ctx, org, repo, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to get release %s/%s@%s: %w", org, repo, tag, err)
	}
	return release, nil
}
