package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v81/github"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/fanout"
	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/processor"
	"github.com/pulsefeed/pulsefeed/internal/store/storetest"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// failMarkerSummarizer posts everything except content containing "FAIL",
// which errors like a flaky summarizer would.
type failMarkerSummarizer struct{}

func (failMarkerSummarizer) Summarize(ctx context.Context, req summarize.Request) (*summarize.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(req.Content, "FAIL") {
		return nil, errors.New("summarizer unavailable")
	}
	return &summarize.Response{Summary: "summary", ShouldPost: true}, nil
}

// seqGitHub returns queued pull requests in order, one per call.
type seqGitHub struct {
	prs []*github.PullRequest
}

func (s *seqGitHub) PullRequest(_ context.Context, _, _ string, _ int) (*github.PullRequest, error) {
	if len(s.prs) == 0 {
		return nil, errors.New("no PR queued")
	}
	pr := s.prs[0]
	s.prs = s.prs[1:]
	return pr, nil
}

func (s *seqGitHub) Commit(_ context.Context, _, _, _ string) (*github.RepositoryCommit, error) {
	return &github.RepositoryCommit{}, nil
}

func (s *seqGitHub) ReleaseByTag(_ context.Context, _, _, _ string) (*github.RepositoryRelease, error) {
	return nil, errors.New("not found")
}

type fixture struct {
	events    *storetest.EventStore
	repos     *storetest.RepoDirectory
	timelines *storetest.TimelineStore
	runner    *Runner
	repo      feed.Repository
}

func newFixture(t *testing.T, gh processor.GitHub) *fixture {
	t.Helper()
	events := storetest.NewEventStore()
	repos := storetest.NewRepoDirectory()
	timelines := storetest.NewTimelineStore()
	repo := repos.AddRepo("acme", "widgets")
	repos.AddSubscriber("alice", repo.ID, false)

	registry := processor.NewRegistry(processor.Deps{
		Summarizer: failMarkerSummarizer{},
		NewGitHub:  func(string) processor.GitHub { return gh },
	})

	runner := NewRunner(Config{
		Events:          events,
		Repos:           repos,
		Timelines:       timelines,
		Registry:        registry,
		Writer:          fanout.NewWriter(timelines),
		Logger:          zerolog.Nop(),
		InterEventDelay: time.Millisecond,
	})
	return &fixture{events: events, repos: repos, timelines: timelines, runner: runner, repo: repo}
}

func issueEvent(t *testing.T, number int, body string, createdAt time.Time) *feed.RawEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"action": "opened",
		"issue": map[string]interface{}{
			"number": number,
			"title":  fmt.Sprintf("issue %d", number),
			"body":   body,
			"user":   map[string]string{"login": "dave"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &feed.RawEvent{
		ID:         uuid.New(),
		EventType:  feed.EventIssues,
		Action:     "opened",
		Org:        "acme",
		Repo:       "widgets",
		RawPayload: payload,
		CreatedAt:  createdAt,
	}
}

func TestBatchFailureIsolation(t *testing.T) {
	f := newFixture(t, &seqGitHub{})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	// Five events; the third fails during summarization.
	for i := 1; i <= 5; i++ {
		body := "useful detail"
		if i == 3 {
			body = "FAIL"
		}
		if err := f.events.Append(ctx, issueEvent(t, i, body, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if got := len(f.timelines.Public()); got != 4 {
		t.Errorf("expected 4 public rows (events 1,2,4,5), got %d", got)
	}
	for _, ev := range f.events.All() {
		if ev.LastProcessed == nil {
			t.Errorf("event %s should be marked processed even after failure", ev.ID)
		}
	}

	// A second run sees an empty queue and changes nothing.
	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("second RunBatch failed: %v", err)
	}
	if got := len(f.timelines.Public()); got != 4 {
		t.Errorf("second run should be a no-op, got %d rows", got)
	}
}

func TestSameBatchOpenedThenMergedCollapses(t *testing.T) {
	gh := &seqGitHub{prs: []*github.PullRequest{
		{Number: github.Ptr(7), Title: github.Ptr("Add feature"), User: &github.User{Login: github.Ptr("grace")}},
		{Number: github.Ptr(7), Title: github.Ptr("Add feature"), Merged: github.Ptr(true), User: &github.User{Login: github.Ptr("grace")}},
	}}
	f := newFixture(t, gh)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	prPayload := func(action string) json.RawMessage {
		data, _ := json.Marshal(map[string]interface{}{
			"action": action,
			"pull_request": map[string]interface{}{
				"number": 7,
				"title":  "Add feature",
				"user":   map[string]string{"login": "grace"},
			},
		})
		return data
	}
	for i, action := range []string{"opened", "closed"} {
		err := f.events.Append(ctx, &feed.RawEvent{
			ID:         uuid.New(),
			EventType:  feed.EventPullRequest,
			Action:     action,
			Org:        "acme",
			Repo:       "widgets",
			RawPayload: prPayload(action),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	pub := f.timelines.Public()
	if len(pub) != 1 {
		t.Fatalf("opened+merged for one PR should collapse to one row, got %d", len(pub))
	}
	if pub[0].Data.Action != "merged" {
		t.Errorf("row should reflect merged state (last write wins), got %q", pub[0].Data.Action)
	}
	if len(pub[0].EventIDs) != 2 {
		t.Errorf("row should reference both raw events, got %d", len(pub[0].EventIDs))
	}
}

func TestSnoozeSweepRunsOncePerBatch(t *testing.T) {
	f := newFixture(t, &seqGitHub{})
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	if err := f.timelines.MergePublic(ctx, &feed.PublicTimelineEntry{
		Type: feed.EventIssues, RepoID: f.repo.ID, DedupeHash: "h1", SnoozeTo: &past, IsRead: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.timelines.MergePublic(ctx, &feed.PublicTimelineEntry{
		Type: feed.EventIssues, RepoID: f.repo.ID, DedupeHash: "h2", SnoozeTo: &future,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	for _, e := range f.timelines.Public() {
		switch e.DedupeHash {
		case "h1":
			if e.SnoozeTo != nil || e.IsRead {
				t.Error("expired snooze should be cleared and entry unread")
			}
		case "h2":
			if e.SnoozeTo == nil {
				t.Error("future snooze should be untouched")
			}
		}
	}
}

func TestLeaseBlocksConcurrentRun(t *testing.T) {
	f := newFixture(t, &seqGitHub{})
	ctx := context.Background()

	lock := NewLocalLock()
	f.runner.lock = lock

	// Simulate another instance holding the lease.
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("setup: could not take lease")
	}
	if err := f.events.Append(ctx, issueEvent(t, 1, "detail", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if got := len(f.timelines.Public()); got != 0 {
		t.Errorf("run should be skipped while the lease is held, got %d rows", got)
	}

	// After release the queue drains normally.
	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch after release failed: %v", err)
	}
	if got := len(f.timelines.Public()); got != 1 {
		t.Errorf("expected 1 row after lease release, got %d", got)
	}
}

func TestBatchBudgetFailsEventNotBatch(t *testing.T) {
	f := newFixture(t, &seqGitHub{})
	ctx := context.Background()

	// A budget that is already exhausted when processing starts: every
	// event fails with context deadline, but the batch still completes and
	// marks them processed.
	f.runner.batchBudget = time.Nanosecond
	f.runner.interEventDelay = 0

	for i := 1; i <= 2; i++ {
		if err := f.events.Append(ctx, issueEvent(t, i, "detail", time.Now().UTC())); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.runner.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	for _, ev := range f.events.All() {
		if ev.LastProcessed == nil {
			t.Error("events should be marked processed after budget exhaustion")
		}
	}
}
