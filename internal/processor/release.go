package processor

import (
	"context"
	"fmt"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// releaseProcessor handles release events. The tag name is the stable key:
// edited or re-delivered release events for the same tag collapse.
type releaseProcessor struct {
	deps Deps
}

func (p *releaseProcessor) Type() feed.EventType { return feed.EventRelease }

func (p *releaseProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.ReleaseEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	release := payload.GetRelease()
	if release == nil || release.GetTagName() == "" {
		return nil, fmt.Errorf("release event %s has no tag", ev.ID)
	}
	tag := release.GetTagName()

	// Release notes can lag the webhook; fetch the current body.
	gh := p.deps.NewGitHub(rctx.Repo.AccessToken)
	fresh, err := gh.ReleaseByTag(ctx, ev.Org, ev.Repo, tag)
	if err != nil {
		return nil, fmt.Errorf("release %s/%s@%s: %w", ev.Org, ev.Repo, tag, err)
	}
	release = fresh

	name := release.GetName()
	if name == "" {
		name = tag
	}

	content := fmt.Sprintf("Release %s (%s):\n\n%s",
		name, tag, truncate(release.GetBody(), 6000))

	decision, err := p.deps.Summarizer.Summarize(ctx, summarize.Request{
		Content:         content,
		PostingCriteria: PostingCriteria,
	})
	if err != nil {
		return nil, fmt.Errorf("release %s/%s@%s: %w", ev.Org, ev.Repo, tag, err)
	}
	if !decision.ShouldPost {
		return &Result{ShouldPost: false}, nil
	}

	inv := involvement{}
	inv.add(release.GetAuthor().GetLogin(), CategoryAuthor)

	title := decision.Title
	if title == "" {
		title = fmt.Sprintf("Release %s", name)
	}

	return &Result{
		Payload: feed.Payload{
			Title:        title,
			Summary:      decision.Summary,
			Action:       payload.GetAction(),
			URL:          release.GetHTMLURL(),
			Tag:          tag,
			Author:       release.GetAuthor().GetLogin(),
			Contributors: inv.logins(),
		},
		StableKey:   tag,
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}
