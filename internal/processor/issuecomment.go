package processor

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// issueCommentProcessor handles issue_comment events. The stable key is the
// issue number, so every comment on one issue collapses into a single
// comment-activity row. The hash includes the event type, which keeps that
// row separate from the issue's own entry.
type issueCommentProcessor struct {
	deps Deps
}

func (p *issueCommentProcessor) Type() feed.EventType { return feed.EventIssueComment }

func (p *issueCommentProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.IssueCommentEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	issue := payload.GetIssue()
	comment := payload.GetComment()
	if issue == nil || issue.GetNumber() == 0 || comment == nil {
		return nil, fmt.Errorf("issue_comment event %s is missing issue or comment", ev.ID)
	}

	content := fmt.Sprintf("Comment by %s on issue #%d (%s):\n\n%s",
		comment.GetUser().GetLogin(), issue.GetNumber(), issue.GetTitle(),
		truncate(comment.GetBody(), 4000))

	decision, err := p.deps.Summarizer.Summarize(ctx, summarize.Request{
		Content:         content,
		PostingCriteria: PostingCriteria,
	})
	if err != nil {
		return nil, fmt.Errorf("issue_comment %s/%s#%d: %w", ev.Org, ev.Repo, issue.GetNumber(), err)
	}
	if !decision.ShouldPost {
		return &Result{ShouldPost: false}, nil
	}

	inv := involvement{}
	inv.add(comment.GetUser().GetLogin(), CategoryCommenter)
	inv.add(issue.GetUser().GetLogin(), CategoryAuthor)
	for _, a := range issue.Assignees {
		inv.add(a.GetLogin(), CategoryAssignee)
	}

	title := decision.Title
	if title == "" {
		title = fmt.Sprintf("New comment on #%d: %s", issue.GetNumber(), issue.GetTitle())
	}

	return &Result{
		Payload: feed.Payload{
			Title:        title,
			Summary:      decision.Summary,
			Action:       payload.GetAction(),
			URL:          comment.GetHTMLURL(),
			Number:       issue.GetNumber(),
			Author:       comment.GetUser().GetLogin(),
			Contributors: inv.logins(),
		},
		StableKey:   fmt.Sprintf("%d", issue.GetNumber()),
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}
