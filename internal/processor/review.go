package processor

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// reviewProcessor handles pull_request_review events. The stable key is the
// PR number so reviews collapse onto the same activity as the PR itself
// would under its own hash namespace.
type reviewProcessor struct {
	deps Deps
}

func (p *reviewProcessor) Type() feed.EventType { return feed.EventPullRequestReview }

func (p *reviewProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.PullRequestReviewEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	pr := payload.GetPullRequest()
	review := payload.GetReview()
	if pr == nil || pr.GetNumber() == 0 || review == nil {
		return nil, fmt.Errorf("pull_request_review event %s is missing PR or review", ev.ID)
	}

	inv := involvement{}
	inv.add(review.GetUser().GetLogin(), CategoryReviewer)
	inv.add(pr.GetUser().GetLogin(), CategoryAuthor)

	title := fmt.Sprintf("Review %s on #%d: %s", review.GetState(), pr.GetNumber(), pr.GetTitle())

	return &Result{
		Payload: feed.Payload{
			Title:        title,
			Action:       review.GetState(),
			URL:          review.GetHTMLURL(),
			Number:       pr.GetNumber(),
			Author:       review.GetUser().GetLogin(),
			Contributors: inv.logins(),
		},
		StableKey:   fmt.Sprintf("%d", pr.GetNumber()),
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}
