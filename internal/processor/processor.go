// Package processor turns raw webhook payloads into normalized timeline
// payloads, one variant per event type.
//
// The event-type set is closed: dispatch is a tagged union over
// feed.EventType, and adding a type means adding a parser+processor pair
// here. A malformed payload for a recognized type is a processing error for
// that event, never silently ignored. Variants that post user-facing content
// gate on the summarizer's should_post decision.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
)

// PostingCriteria is the content-quality bar handed to the summarizer with
// every gated event.
const PostingCriteria = "Post only activity a developer following this repository " +
	"would find informative: meaningful changes, discussions, and releases. " +
	"Skip trivial edits, automated chatter, and bot noise."

// Involvement categories attached to personally-involved subscribers.
const (
	CategoryAuthor    = "author"
	CategoryAssignee  = "assignee"
	CategoryCommenter = "commenter"
	CategoryReviewer  = "reviewer"
	CategoryPusher    = "pusher"
)

// GitHub is the read-only API surface processors pull contextual data from.
// *ghapi.Client implements it; tests substitute a stub.
type GitHub interface {
	PullRequest(ctx context.Context, org, repo string, number int) (*github.PullRequest, error)
	Commit(ctx context.Context, org, repo, sha string) (*github.RepositoryCommit, error)
	ReleaseByTag(ctx context.Context, org, repo, tag string) (*github.RepositoryRelease, error)
}

// RepoContext is the resolved tenant context for one event.
type RepoContext struct {
	Repo        *feed.Repository
	Subscribers []feed.Subscriber
}

// Result is what a processor emits for one event. ShouldPost=false means the
// activity never reaches any feed; it is a quality decision, not an error.
type Result struct {
	Payload    feed.Payload
	StableKey  string
	ShouldPost bool

	// Involvement maps lowercase contributor logins to the categories
	// linking them to the activity. Fan-out tags subscribers whose user ID
	// appears here.
	Involvement map[string][]string
}

// Processor is the per-event-type capability.
type Processor interface {
	Type() feed.EventType
	Process(ctx context.Context, ev *feed.RawEvent, rctx RepoContext) (*Result, error)
}

// Deps holds the collaborators shared by all processors.
type Deps struct {
	Summarizer summarize.Summarizer

	// NewGitHub builds an API client for a repo's access token. Kept as a
	// factory so each tenant's token is used for its own events.
	NewGitHub func(token string) GitHub
}

// Registry dispatches events to the processor for their type.
type Registry struct {
	processors map[feed.EventType]Processor
}

// NewRegistry builds the full processor set.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{processors: make(map[feed.EventType]Processor)}
	for _, p := range []Processor{
		&pullRequestProcessor{deps: deps},
		&reviewProcessor{deps: deps},
		&issuesProcessor{deps: deps},
		&issueCommentProcessor{deps: deps},
		&releaseProcessor{deps: deps},
		&pushProcessor{deps: deps},
	} {
		r.processors[p.Type()] = p
	}
	return r
}

// ForType returns the processor for an event type.
func (r *Registry) ForType(typ feed.EventType) (Processor, error) {
	p, ok := r.processors[typ]
	if !ok {
		return nil, fmt.Errorf("no processor for event type %q", typ)
	}
	return p, nil
}

// parsePayload unmarshals a raw payload into the typed event struct.
func parsePayload(ev *feed.RawEvent, out interface{}) error {
	if err := json.Unmarshal(ev.RawPayload, out); err != nil {
		return fmt.Errorf("malformed %s payload for event %s: %w", ev.EventType, ev.ID, err)
	}
	return nil
}

// involvement collects contributor logins into a category map, lowercasing
// logins and deduplicating categories per login.
type involvement map[string][]string

func (inv involvement) add(login, category string) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return
	}
	for _, c := range inv[login] {
		if c == category {
			return
		}
	}
	inv[login] = append(inv[login], category)
}

// logins returns the deduplicated contributor list in insertion-independent
// but stable order, for avatar display.
func (inv involvement) logins() []string {
	out := make([]string, 0, len(inv))
	for login := range inv {
		out = append(out, login)
	}
	sort.Strings(out)
	return out
}

// truncate bounds free-form text handed to the summarizer.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
