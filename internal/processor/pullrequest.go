package processor

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// pullRequestProcessor handles pull_request events. PR activity always posts;
// the summarizer is not consulted because the PR title and state are already
// feed-quality content.
type pullRequestProcessor struct {
	deps Deps
}

func (p *pullRequestProcessor) Type() feed.EventType { return feed.EventPullRequest }

func (p *pullRequestProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.PullRequestEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	pr := payload.GetPullRequest()
	if pr == nil || pr.GetNumber() == 0 {
		return nil, fmt.Errorf("pull_request event %s has no pull request", ev.ID)
	}
	number := pr.GetNumber()

	// Refresh PR state from the API: the webhook snapshot can be stale by
	// the time the batch runs, and later-write-wins wants current state.
	gh := p.deps.NewGitHub(rctx.Repo.AccessToken)
	if fresh, err := gh.PullRequest(ctx, ev.Org, ev.Repo, number); err != nil {
		return nil, fmt.Errorf("pull_request %s/%s#%d: %w", ev.Org, ev.Repo, number, err)
	} else {
		pr = fresh
	}

	action := payload.GetAction()
	if pr.GetMerged() {
		action = "merged"
	}

	inv := involvement{}
	inv.add(pr.GetUser().GetLogin(), CategoryAuthor)
	for _, a := range pr.Assignees {
		inv.add(a.GetLogin(), CategoryAssignee)
	}
	for _, r := range pr.RequestedReviewers {
		inv.add(r.GetLogin(), CategoryReviewer)
	}

	return &Result{
		Payload: feed.Payload{
			Title:        pr.GetTitle(),
			Action:       action,
			URL:          pr.GetHTMLURL(),
			Number:       number,
			Author:       pr.GetUser().GetLogin(),
			Contributors: inv.logins(),
		},
		StableKey:   fmt.Sprintf("%d", number),
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}
