package processor

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// issuesProcessor handles issues events through the should-post gate.
type issuesProcessor struct {
	deps Deps
}

func (p *issuesProcessor) Type() feed.EventType { return feed.EventIssues }

func (p *issuesProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.IssuesEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	issue := payload.GetIssue()
	if issue == nil || issue.GetNumber() == 0 {
		return nil, fmt.Errorf("issues event %s has no issue", ev.ID)
	}

	content := fmt.Sprintf("Issue #%d %s: %s\n\n%s",
		issue.GetNumber(), payload.GetAction(), issue.GetTitle(),
		truncate(issue.GetBody(), 4000))

	decision, err := p.deps.Summarizer.Summarize(ctx, summarize.Request{
		Content:         content,
		PostingCriteria: PostingCriteria,
	})
	if err != nil {
		return nil, fmt.Errorf("issue %s/%s#%d: %w", ev.Org, ev.Repo, issue.GetNumber(), err)
	}
	if !decision.ShouldPost {
		return &Result{ShouldPost: false}, nil
	}

	inv := involvement{}
	inv.add(issue.GetUser().GetLogin(), CategoryAuthor)
	for _, a := range issue.Assignees {
		inv.add(a.GetLogin(), CategoryAssignee)
	}

	title := decision.Title
	if title == "" {
		title = issue.GetTitle()
	}

	return &Result{
		Payload: feed.Payload{
			Title:        title,
			Summary:      decision.Summary,
			Action:       payload.GetAction(),
			URL:          issue.GetHTMLURL(),
			Number:       issue.GetNumber(),
			Author:       issue.GetUser().GetLogin(),
			Contributors: inv.logins(),
		},
		StableKey:   fmt.Sprintf("%d", issue.GetNumber()),
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}
