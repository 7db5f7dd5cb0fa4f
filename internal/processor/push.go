package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// squashMergePattern matches squash-merge commit subjects like
// "Fix the frobnicator (#42)".
var squashMergePattern = regexp.MustCompile(`\(#\d+\)\s*$`)

// pushProcessor handles push events. Pushes that merge a pull request are
// suppressed entirely: the pull_request event already represents that
// activity, and surfacing it twice doubles feed noise.
type pushProcessor struct {
	deps Deps
}

func (p *pushProcessor) Type() feed.EventType { return feed.EventPush }

func (p *pushProcessor) Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error) {
	var payload github.PushEvent
	if err := parsePayload(ev, &payload); err != nil {
		return nil, err
	}

	headSHA := payload.GetAfter()
	if headSHA == "" {
		return nil, fmt.Errorf("push event %s has no head commit", ev.ID)
	}

	for _, commit := range payload.Commits {
		if isMergeCommit(commit.GetMessage()) {
			return &Result{ShouldPost: false}, nil
		}
	}

	// Pull the head commit's diff for summarization context.
	var diffSample string
	gh := p.deps.NewGitHub(rctx.Repo.AccessToken)
	head, err := gh.Commit(ctx, ev.Org, ev.Repo, headSHA)
	if err != nil {
		return nil, fmt.Errorf("push %s/%s@%s: %w", ev.Org, ev.Repo, headSHA, err)
	}
	diffSample = commitDiffSample(head)

	var messages []string
	for _, commit := range payload.Commits {
		messages = append(messages, "- "+firstLine(commit.GetMessage()))
	}

	content := fmt.Sprintf("Push to %s (%d commits):\n%s\n\nHead commit diff:\n%s",
		payload.GetRef(), len(payload.Commits),
		strings.Join(messages, "\n"), truncate(diffSample, 6000))

	decision, err := p.deps.Summarizer.Summarize(ctx, summarize.Request{
		Content:         content,
		PostingCriteria: PostingCriteria,
	})
	if err != nil {
		return nil, fmt.Errorf("push %s/%s@%s: %w", ev.Org, ev.Repo, headSHA, err)
	}
	if !decision.ShouldPost {
		return &Result{ShouldPost: false}, nil
	}

	inv := involvement{}
	inv.add(payload.GetPusher().GetName(), CategoryPusher)
	for _, commit := range payload.Commits {
		inv.add(commit.GetAuthor().GetLogin(), CategoryAuthor)
	}

	title := decision.Title
	if title == "" {
		title = fmt.Sprintf("%d commits pushed to %s", len(payload.Commits), shortRef(payload.GetRef()))
	}

	return &Result{
		Payload: feed.Payload{
			Title:        title,
			Summary:      decision.Summary,
			URL:          payload.GetCompare(),
			Ref:          payload.GetRef(),
			HeadSHA:      headSHA,
			CommitCount:  len(payload.Commits),
			Author:       payload.GetPusher().GetName(),
			Contributors: inv.logins(),
		},
		StableKey:   headSHA,
		ShouldPost:  true,
		Involvement: inv,
	}, nil
}

// isMergeCommit reports whether a commit message is a PR merge or squash
// merge. Matching is on the subject line only; "(#N)" in a body footnote
// should not suppress a push.
func isMergeCommit(message string) bool {
	subject := firstLine(message)
	if strings.HasPrefix(subject, "Merge pull request ") {
		return true
	}
	return squashMergePattern.MatchString(subject)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// commitDiffSample flattens a commit's file patches into a bounded text
// sample for the summarizer.
func commitDiffSample(commit *github.RepositoryCommit) string {
	if commit == nil {
		return ""
	}
	var sb strings.Builder
	for _, f := range commit.Files {
		sb.WriteString(f.GetFilename())
		sb.WriteString("\n")
		if patch := f.GetPatch(); patch != "" {
			sb.WriteString(truncate(patch, 1000))
			sb.WriteString("\n")
		}
		if sb.Len() > 8000 {
			break
		}
	}
	return sb.String()
}
