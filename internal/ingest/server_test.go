package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/fanout"
	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/notify"
	"github.com/pulsefeed/pulsefeed/internal/store/storetest"
)

type ingestFixture struct {
	events *storetest.EventStore
	repos  *storetest.RepoDirectory
	srv    *httptest.Server
}

func newIngestFixture(t *testing.T, secret string) *ingestFixture {
	t.Helper()
	events := storetest.NewEventStore()
	repos := storetest.NewRepoDirectory()
	s := NewServer(secret, events, repos, zerolog.Nop())
	srv := httptest.NewServer(s.Mux())
	t.Cleanup(srv.Close)
	return &ingestFixture{events: events, repos: repos, srv: srv}
}

func (f *ingestFixture) deliver(t *testing.T, eventName, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhook", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventName)
	req.Header.Set("X-GitHub-Delivery", "test-delivery")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("deliver %s: %v", eventName, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func issuesBody(org, repo string, number int) string {
	return fmt.Sprintf(`{
		"action": "opened",
		"issue": {"number": %d, "title": "panic on empty input", "user": {"login": "alice"}},
		"repository": {"name": %q, "owner": {"login": %q}}
	}`, number, repo, org)
}

func TestWebhookStoresTrackedRepoEvent(t *testing.T) {
	f := newIngestFixture(t, "")
	f.repos.AddRepo("PulseOrg", "Widgets")

	resp := f.deliver(t, "issues", issuesBody("PulseOrg", "Widgets", 42))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	events := f.events.All()
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != feed.EventIssues {
		t.Errorf("event type = %q, want %q", ev.EventType, feed.EventIssues)
	}
	if ev.Action != "opened" {
		t.Errorf("action = %q, want opened", ev.Action)
	}
	if ev.Org != "pulseorg" || ev.Repo != "widgets" {
		t.Errorf("org/repo = %s/%s, want lowercased pulseorg/widgets", ev.Org, ev.Repo)
	}
	if !strings.Contains(string(ev.RawPayload), `"number":42`) {
		t.Errorf("payload missing issue number: %s", ev.RawPayload)
	}
	if ev.LastProcessed != nil {
		t.Error("new event should not carry a processed marker")
	}
}

func TestWebhookDropsUntrackedRepo(t *testing.T) {
	f := newIngestFixture(t, "")
	f.repos.AddRepo("pulseorg", "widgets")

	resp := f.deliver(t, "issues", issuesBody("someone", "elses-repo", 1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("untracked repo status = %d, want 200", resp.StatusCode)
	}
	if n := len(f.events.All()); n != 0 {
		t.Fatalf("stored %d events for untracked repo, want 0", n)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	f := newIngestFixture(t, "")

	resp := f.deliver(t, "issues", `{"action": "opened",`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}
	if n := len(f.events.All()); n != 0 {
		t.Fatalf("stored %d events from malformed body, want 0", n)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	f := newIngestFixture(t, "s3cret")
	f.repos.AddRepo("pulseorg", "widgets")

	resp := f.deliver(t, "issues", issuesBody("pulseorg", "widgets", 7))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsigned delivery status = %d, want 400", resp.StatusCode)
	}
	if n := len(f.events.All()); n != 0 {
		t.Fatalf("stored %d unsigned events, want 0", n)
	}
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	f := newIngestFixture(t, "")
	f.repos.AddRepo("pulseorg", "widgets")

	body := `{"action": "started", "repository": {"name": "widgets", "owner": {"login": "pulseorg"}}}`
	resp := f.deliver(t, "watch", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("watch event status = %d, want 200", resp.StatusCode)
	}
	if n := len(f.events.All()); n != 0 {
		t.Fatalf("stored %d watch events, want 0", n)
	}
}

func TestWebhookStoresPushWithoutAction(t *testing.T) {
	f := newIngestFixture(t, "")
	f.repos.AddRepo("pulseorg", "widgets")

	body := `{
		"ref": "refs/heads/main",
		"after": "abc123",
		"pusher": {"name": "alice"},
		"repository": {"name": "widgets", "owner": {"login": "pulseorg", "name": "pulseorg"}}
	}`
	resp := f.deliver(t, "push", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push status = %d, want 200", resp.StatusCode)
	}
	events := f.events.All()
	if len(events) != 1 {
		t.Fatalf("stored %d push events, want 1", len(events))
	}
	if events[0].EventType != feed.EventPush {
		t.Errorf("event type = %q, want %q", events[0].EventType, feed.EventPush)
	}
	if events[0].Action != "" {
		t.Errorf("push action = %q, want empty", events[0].Action)
	}
}

func TestHealthz(t *testing.T) {
	f := newIngestFixture(t, "")
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

type apiFixture struct {
	repos     *storetest.RepoDirectory
	timelines *storetest.TimelineStore
	sender    *captureSender
	srv       *httptest.Server
}

type captureSender struct {
	recipients [][]string
}

func (s *captureSender) Send(_ context.Context, subs []feed.Subscriber, _, _ string) error {
	var to []string
	for _, sub := range subs {
		to = append(to, sub.UserID)
	}
	s.recipients = append(s.recipients, to)
	return nil
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repos := storetest.NewRepoDirectory()
	timelines := storetest.NewTimelineStore()
	records := storetest.NewNotificationStore()
	sender := &captureSender{}
	milestones := notify.NewMilestones(timelines, repos, records, sender, zerolog.Nop())
	api := NewAPI(repos, timelines, milestones, fanout.NewWriter(timelines), zerolog.Nop())

	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &apiFixture{repos: repos, timelines: timelines, sender: sender, srv: srv}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubscribeBackfillsUserTimeline(t *testing.T) {
	f := newAPIFixture(t)
	repo := f.repos.AddRepo("pulseorg", "widgets")

	for i := 0; i < 3; i++ {
		err := f.timelines.MergePublic(context.Background(), &feed.PublicTimelineEntry{
			RepoID:     repo.ID,
			Type:       feed.EventIssues,
			DedupeHash: fmt.Sprintf("hash-%d", i),
			Data:       feed.Payload{Title: fmt.Sprintf("entry %d", i)},
			UpdatedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed public entry: %v", err)
		}
	}

	resp := postJSON(t, f.srv.URL+"/api/subscribe", subscribeRequest{
		UserID: "alice",
		RepoID: repo.ID.String(),
		Email:  "alice@example.com",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe status = %d, want 200", resp.StatusCode)
	}

	subs, err := f.repos.Subscribers(context.Background(), repo.ID)
	if err != nil {
		t.Fatalf("subscribers: %v", err)
	}
	if len(subs) != 1 || subs[0].UserID != "alice" {
		t.Fatalf("subscribers = %+v, want one for alice", subs)
	}

	user := f.timelines.User()
	if len(user) != 3 {
		t.Fatalf("backfilled %d user entries, want 3", len(user))
	}
	for _, e := range user {
		if e.UserID != "alice" {
			t.Errorf("backfilled entry for %q, want alice", e.UserID)
		}
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)
	repo := f.repos.AddRepo("pulseorg", "widgets")

	resp := postJSON(t, f.srv.URL+"/api/subscribe", subscribeRequest{UserID: "", RepoID: repo.ID.String()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty user status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, f.srv.URL+"/api/subscribe", subscribeRequest{UserID: "alice", RepoID: "not-a-uuid"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad repo id status = %d, want 400", resp.StatusCode)
	}
}

func TestLikeIncrementsCounter(t *testing.T) {
	f := newAPIFixture(t)
	repo := f.repos.AddRepo("pulseorg", "widgets")

	entry := &feed.PublicTimelineEntry{
		RepoID:     repo.ID,
		Type:       feed.EventRelease,
		DedupeHash: "release-hash",
		Data:       feed.Payload{Title: "v1.0.0"},
	}
	if err := f.timelines.MergePublic(context.Background(), entry); err != nil {
		t.Fatalf("seed public entry: %v", err)
	}

	url := fmt.Sprintf("%s/api/like?entry=%s", f.srv.URL, entry.ID)
	for i := 0; i < 2; i++ {
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			t.Fatalf("like: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("like status = %d, want 200", resp.StatusCode)
		}
	}

	count, err := f.timelines.LikeCount(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("like count: %v", err)
	}
	if count != 2 {
		t.Errorf("likes = %d, want 2", count)
	}
}

func TestLikeNotifiesEntryRepoOwners(t *testing.T) {
	f := newAPIFixture(t)
	repoA := f.repos.AddRepo("pulseorg", "widgets")
	repoB := f.repos.AddRepo("acme", "gadgets")
	f.repos.AddSubscriber("owner-a", repoA.ID, true)
	f.repos.AddSubscriber("owner-b", repoB.ID, true)

	entry := &feed.PublicTimelineEntry{
		RepoID:     repoB.ID,
		Type:       feed.EventIssues,
		DedupeHash: "issue-hash",
		Data:       feed.Payload{Title: "issue opened"},
	}
	if err := f.timelines.MergePublic(context.Background(), entry); err != nil {
		t.Fatalf("seed public entry: %v", err)
	}

	url := fmt.Sprintf("%s/api/like?entry=%s", f.srv.URL, entry.ID)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("like status = %d, want 200", resp.StatusCode)
	}

	// The first like crosses the lowest milestone. The notified owners must
	// come from the liked entry's repository, not from anything the caller
	// supplied.
	if len(f.sender.recipients) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(f.sender.recipients))
	}
	got := f.sender.recipients[0]
	if len(got) != 1 || got[0] != "owner-b" {
		t.Errorf("recipients = %v, want [owner-b]", got)
	}
}

func TestSnoozeRequiresFutureTime(t *testing.T) {
	f := newAPIFixture(t)

	url := fmt.Sprintf("%s/api/snooze?user=alice&entry=%s&until=%s",
		f.srv.URL, "11111111-1111-1111-1111-111111111111",
		time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("past snooze status = %d, want 400", resp.StatusCode)
	}
}
