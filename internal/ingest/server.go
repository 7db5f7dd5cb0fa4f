// Package ingest receives GitHub webhooks, validates them per event type,
// and appends accepted deliveries to the raw event store.
//
// Validation failures get a 400. Deliveries for repositories the system does
// not track get a 200 and are silently dropped before storage, so untracked
// noise never reaches the queue. No dedup happens here: duplicate deliveries
// produce duplicate rows and collapse downstream by content hash.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cbrgm/githubevents/v2/githubevents"
	"github.com/google/go-github/v81/github"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

// errStorage marks an append failure so the handler can answer 500 instead
// of the 400 used for validation failures.
var errStorage = errors.New("raw event storage failed")

// Server handles GitHub webhook events.
type Server struct {
	handler *githubevents.EventHandler
	events  feed.EventStore
	repos   feed.RepoDirectory
	log     zerolog.Logger
}

// NewServer creates a webhook server.
func NewServer(webhookSecret string, events feed.EventStore, repos feed.RepoDirectory, log zerolog.Logger) *Server {
	s := &Server{
		handler: githubevents.New(webhookSecret),
		events:  events,
		repos:   repos,
		log:     log,
	}

	s.handler.OnBeforeAny(func(ctx context.Context, deliveryID string, eventName string, event interface{}) error {
		s.log.Debug().Str("event", eventName).Str("delivery", deliveryID).Msg("ingest: event received")
		return nil
	})

	s.handler.OnPullRequestEventAny(func(ctx context.Context, _ string, _ string, event *github.PullRequestEvent) error {
		return s.accept(ctx, feed.EventPullRequest, event.GetAction(),
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})
	s.handler.OnPullRequestReviewEventAny(func(ctx context.Context, _ string, _ string, event *github.PullRequestReviewEvent) error {
		return s.accept(ctx, feed.EventPullRequestReview, event.GetAction(),
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})
	s.handler.OnIssuesEventAny(func(ctx context.Context, _ string, _ string, event *github.IssuesEvent) error {
		return s.accept(ctx, feed.EventIssues, event.GetAction(),
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})
	s.handler.OnIssueCommentEventAny(func(ctx context.Context, _ string, _ string, event *github.IssueCommentEvent) error {
		return s.accept(ctx, feed.EventIssueComment, event.GetAction(),
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})
	s.handler.OnReleaseEventAny(func(ctx context.Context, _ string, _ string, event *github.ReleaseEvent) error {
		return s.accept(ctx, feed.EventRelease, event.GetAction(),
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})
	s.handler.OnPushEventAny(func(ctx context.Context, _ string, _ string, event *github.PushEvent) error {
		return s.accept(ctx, feed.EventPush, "",
			event.GetRepo().GetOwner().GetLogin(), event.GetRepo().GetName(), event)
	})

	return s
}

// accept resolves the repository and appends the delivery. Untracked repos
// are dropped without error so the webhook still gets a 200.
func (s *Server) accept(ctx context.Context, typ feed.EventType, action, org, repo string, event interface{}) error {
	if org == "" || repo == "" {
		return fmt.Errorf("%s event has no repository", typ)
	}

	if _, err := s.repos.Lookup(ctx, org, repo); err != nil {
		if errors.Is(err, feed.ErrUnknownRepo) {
			metrics.EventsDropped.Inc()
			s.log.Debug().Str("org", org).Str("repo", repo).Msg("ingest: repo not tracked, dropping")
			return nil
		}
		return fmt.Errorf("%w: repo lookup: %s", errStorage, err)
	}

	// The typed event round-trips to JSON losslessly for every field the
	// processors parse, so the re-marshal is safe to store as the payload.
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	ev := &feed.RawEvent{
		EventType:  typ,
		Action:     action,
		Org:        strings.ToLower(org),
		Repo:       strings.ToLower(repo),
		RawPayload: payload,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("%w: %s", errStorage, err)
	}

	metrics.EventsIngested.WithLabelValues(string(typ)).Inc()
	s.log.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(typ)).
		Str("org", ev.Org).
		Str("repo", ev.Repo).
		Msg("ingest: event stored")
	return nil
}

// HandleWebhook processes one incoming webhook request.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.HandleEventRequest(r); err != nil {
		if errors.Is(err, errStorage) || strings.Contains(err.Error(), errStorage.Error()) {
			s.log.Error().Err(err).Msg("ingest: storage error")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		metrics.EventsRejected.Inc()
		s.log.Warn().Err(err).Msg("ingest: webhook rejected")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Mux returns the server's route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	mux.HandleFunc("/webhook", s.HandleWebhook)
	mux.HandleFunc("/webhook/", s.HandleWebhook)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
