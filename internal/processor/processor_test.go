package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-github/v81/github"
	"github.com/google/uuid"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

type stubSummarizer struct {
	resp  summarize.Response
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ summarize.Request) (*summarize.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	resp := s.resp
	return &resp, nil
}

type stubGitHub struct {
	pr      *github.PullRequest
	commit  *github.RepositoryCommit
	release *github.RepositoryRelease
	err     error
}

func (s *stubGitHub) PullRequest(_ context.Context, _, _ string, _ int) (*github.PullRequest, error) {
	return s.pr, s.err
}

func (s *stubGitHub) Commit(_ context.Context, _, _, _ string) (*github.RepositoryCommit, error) {
	return s.commit, s.err
}

func (s *stubGitHub) ReleaseByTag(_ context.Context, _, _, _ string) (*github.RepositoryRelease, error) {
	return s.release, s.err
}

func testDeps(sum *stubSummarizer, gh *stubGitHub) Deps {
	return Deps{
		Summarizer: sum,
		NewGitHub:  func(string) GitHub { return gh },
	}
}

func rawEvent(t *testing.T, typ feed.EventType, payload interface{}) *feed.RawEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &feed.RawEvent{
		ID:         uuid.New(),
		EventType:  typ,
		Org:        "acme",
		Repo:       "widgets",
		RawPayload: data,
	}
}

func testRepoCtx() RepoContext {
	return RepoContext{Repo: &feed.Repository{ID: uuid.New(), Org: "acme", Repo: "widgets"}}
}

func str(s string) *string { return &s }
func num(n int) *int       { return &n }
func boolp(b bool) *bool   { return &b }

func TestPushMergeCommitSuppressed(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "s", ShouldPost: true}}
	p := &pushProcessor{deps: testDeps(sum, &stubGitHub{})}

	ev := rawEvent(t, feed.EventPush, map[string]interface{}{
		"ref":   "refs/heads/main",
		"after": "deadbeef",
		"commits": []map[string]interface{}{
			{"message": "Merge pull request #42 from branch"},
		},
		"pusher": map[string]string{"name": "alice"},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.ShouldPost {
		t.Error("merge-commit push should be suppressed")
	}
	if sum.calls != 0 {
		t.Errorf("summarizer should not be called for suppressed push, got %d calls", sum.calls)
	}
}

func TestPushSquashMergeSuppressed(t *testing.T) {
	p := &pushProcessor{deps: testDeps(&stubSummarizer{}, &stubGitHub{})}

	ev := rawEvent(t, feed.EventPush, map[string]interface{}{
		"ref":   "refs/heads/main",
		"after": "deadbeef",
		"commits": []map[string]interface{}{
			{"message": "Fix the frobnicator (#17)"},
		},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.ShouldPost {
		t.Error("squash-merge push should be suppressed")
	}
}

func TestIsMergeCommit(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Merge pull request #42 from branch", true},
		{"Fix widget rendering (#17)", true},
		{"Fix widget rendering", false},
		{"Add support for (#17) in the middle", false},
		{"Regular commit\n\nMentions (#3) in the body", false},
	}
	for _, tt := range tests {
		if got := isMergeCommit(tt.message); got != tt.want {
			t.Errorf("isMergeCommit(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestPushPostsWithSummary(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "three fixes landed", ShouldPost: true}}
	gh := &stubGitHub{commit: &github.RepositoryCommit{
		Files: []*github.CommitFile{{Filename: str("main.go"), Patch: str("+fixed")}},
	}}
	p := &pushProcessor{deps: testDeps(sum, gh)}

	ev := rawEvent(t, feed.EventPush, map[string]interface{}{
		"ref":   "refs/heads/main",
		"after": "cafe1234",
		"commits": []map[string]interface{}{
			{"message": "fix one", "author": map[string]string{"login": "Bob", "name": "Bob"}},
			{"message": "fix two", "author": map[string]string{"login": "carol", "name": "Carol"}},
		},
		"pusher": map[string]string{"name": "alice"},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !result.ShouldPost {
		t.Fatal("expected push to post")
	}
	if result.StableKey != "cafe1234" {
		t.Errorf("push stable key should be head SHA, got %s", result.StableKey)
	}
	if result.Payload.Summary != "three fixes landed" {
		t.Errorf("unexpected summary: %s", result.Payload.Summary)
	}
	if result.Payload.CommitCount != 2 {
		t.Errorf("expected 2 commits, got %d", result.Payload.CommitCount)
	}
	// alice (pusher) + bob + carol, lowercased and deduplicated
	if len(result.Payload.Contributors) != 3 {
		t.Errorf("expected 3 contributors, got %v", result.Payload.Contributors)
	}
	if _, ok := result.Involvement["bob"]; !ok {
		t.Error("commit author logins should be lowercased in involvement")
	}
}

func TestIssuesShouldPostGate(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "meh", ShouldPost: false}}
	p := &issuesProcessor{deps: testDeps(sum, &stubGitHub{})}

	ev := rawEvent(t, feed.EventIssues, map[string]interface{}{
		"action": "opened",
		"issue": map[string]interface{}{
			"number": 9,
			"title":  "typo",
			"body":   "small typo",
			"user":   map[string]string{"login": "dave"},
		},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.ShouldPost {
		t.Error("should_post=false must suppress the entry")
	}
	if sum.calls != 1 {
		t.Errorf("expected exactly one summarizer call, got %d", sum.calls)
	}
}

func TestIssuesContributorDedup(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "s", ShouldPost: true}}
	p := &issuesProcessor{deps: testDeps(sum, &stubGitHub{})}

	// Author is also an assignee: one contributor, two categories.
	ev := rawEvent(t, feed.EventIssues, map[string]interface{}{
		"action": "opened",
		"issue": map[string]interface{}{
			"number":    3,
			"title":     "bug",
			"body":      "details",
			"user":      map[string]string{"login": "Erin"},
			"assignees": []map[string]string{{"login": "erin"}, {"login": "frank"}},
		},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(result.Payload.Contributors) != 2 {
		t.Fatalf("expected 2 contributors, got %v", result.Payload.Contributors)
	}
	cats := result.Involvement["erin"]
	if len(cats) != 2 {
		t.Errorf("expected author+assignee categories for erin, got %v", cats)
	}
}

func TestPullRequestMergedAction(t *testing.T) {
	gh := &stubGitHub{pr: &github.PullRequest{
		Number: num(7),
		Title:  str("Add feature"),
		Merged: boolp(true),
		User:   &github.User{Login: str("grace")},
	}}
	p := &pullRequestProcessor{deps: testDeps(&stubSummarizer{}, gh)}

	ev := rawEvent(t, feed.EventPullRequest, map[string]interface{}{
		"action": "closed",
		"pull_request": map[string]interface{}{
			"number": 7,
			"title":  "Add feature",
			"user":   map[string]string{"login": "grace"},
		},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !result.ShouldPost {
		t.Fatal("PR events always post")
	}
	if result.Payload.Action != "merged" {
		t.Errorf("merged PR should surface action=merged, got %s", result.Payload.Action)
	}
	if result.StableKey != "7" {
		t.Errorf("PR stable key should be the number, got %s", result.StableKey)
	}
}

func TestReleaseRefreshFailureIsError(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "s", ShouldPost: true}}
	gh := &stubGitHub{err: errors.New("rate limited")}
	p := &releaseProcessor{deps: testDeps(sum, gh)}

	ev := rawEvent(t, feed.EventRelease, map[string]interface{}{
		"action": "published",
		"release": map[string]interface{}{
			"tag_name": "v1.2.0",
			"name":     "v1.2.0",
			"author":   map[string]string{"login": "heidi"},
		},
	})

	if _, err := p.Process(context.Background(), ev, testRepoCtx()); err == nil {
		t.Fatal("failed release refresh should be a processing error")
	}
	if sum.calls != 0 {
		t.Errorf("summarizer should not run after a failed refresh, got %d calls", sum.calls)
	}
}

func TestReleaseUsesRefreshedBody(t *testing.T) {
	sum := &stubSummarizer{resp: summarize.Response{Summary: "s", ShouldPost: true}}
	gh := &stubGitHub{release: &github.RepositoryRelease{
		TagName: str("v1.2.0"),
		Name:    str("Widgets 1.2"),
		Body:    str("notes written after the webhook"),
		Author:  &github.User{Login: str("heidi")},
	}}
	p := &releaseProcessor{deps: testDeps(sum, gh)}

	ev := rawEvent(t, feed.EventRelease, map[string]interface{}{
		"action": "published",
		"release": map[string]interface{}{
			"tag_name": "v1.2.0",
			"body":     "",
			"author":   map[string]string{"login": "heidi"},
		},
	})

	result, err := p.Process(context.Background(), ev, testRepoCtx())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !result.ShouldPost {
		t.Fatal("expected release to post")
	}
	if result.StableKey != "v1.2.0" {
		t.Errorf("release stable key should be the tag, got %s", result.StableKey)
	}
	if result.Payload.Title != "Release Widgets 1.2" {
		t.Errorf("title should use the refreshed release name, got %s", result.Payload.Title)
	}
}

func TestMalformedPayloadIsError(t *testing.T) {
	reg := NewRegistry(testDeps(&stubSummarizer{}, &stubGitHub{}))

	for _, typ := range feed.KnownEventTypes() {
		p, err := reg.ForType(typ)
		if err != nil {
			t.Fatalf("ForType(%s): %v", typ, err)
		}
		ev := &feed.RawEvent{
			ID:         uuid.New(),
			EventType:  typ,
			Org:        "acme",
			Repo:       "widgets",
			RawPayload: json.RawMessage(`{"not json`),
		}
		if _, err := p.Process(context.Background(), ev, testRepoCtx()); err == nil {
			t.Errorf("%s: malformed payload should be a processing error", typ)
		}
	}
}

func TestForTypeUnknown(t *testing.T) {
	reg := NewRegistry(testDeps(&stubSummarizer{}, &stubGitHub{}))
	if _, err := reg.ForType("gollum"); err == nil {
		t.Error("unknown event type should error")
	}
}
