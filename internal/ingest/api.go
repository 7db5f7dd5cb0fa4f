package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/fanout"
	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/notify"
)

// API serves the subscriber-facing mutations: subscribing to a repo, liking
// a public entry, and marking user timeline entries read or snoozed. Likes
// and subscriptions also run the milestone check so threshold crossings get
// noticed at the moment they happen.
type API struct {
	repos      feed.RepoDirectory
	timelines  feed.TimelineStore
	milestones *notify.Milestones
	writer     *fanout.Writer
	log        zerolog.Logger
}

// NewAPI creates the mutation API.
func NewAPI(repos feed.RepoDirectory, timelines feed.TimelineStore, milestones *notify.Milestones, writer *fanout.Writer, log zerolog.Logger) *API {
	return &API{
		repos:      repos,
		timelines:  timelines,
		milestones: milestones,
		writer:     writer,
		log:        log,
	}
}

// Register mounts the API routes on the given mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/subscribe", a.handleSubscribe)
	mux.HandleFunc("/api/like", a.handleLike)
	mux.HandleFunc("/api/read", a.handleRead)
	mux.HandleFunc("/api/snooze", a.handleSnooze)
}

type subscribeRequest struct {
	UserID string `json:"user_id"`
	RepoID string `json:"repo_id"`
	Email  string `json:"email"`
}

// handleSubscribe records a subscription, backfills the new subscriber's
// timeline from the public projection, and checks the subscriber milestone.
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	repoID, err := uuid.Parse(req.RepoID)
	if err != nil {
		http.Error(w, "repo_id must be a UUID", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sub := &feed.Subscriber{
		UserID: req.UserID,
		RepoID: repoID,
		Email:  req.Email,
	}
	if err := a.repos.Subscribe(ctx, sub); err != nil {
		a.log.Error().Err(err).Str("user", req.UserID).Msg("api: subscribe failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	copied, err := a.writer.Backfill(ctx, req.UserID, repoID)
	if err != nil {
		// The subscription is recorded. The next backfill run or the next
		// processed event still reaches the user, so report but do not fail.
		a.log.Error().Err(err).Str("user", req.UserID).Msg("api: backfill failed")
	}

	if err := a.milestones.OnSubscribe(ctx, repoID); err != nil {
		a.log.Error().Err(err).Str("repo", repoID.String()).Msg("api: subscriber milestone check failed")
	}

	writeJSON(w, map[string]interface{}{"status": "subscribed", "backfilled": copied})
}

// handleLike increments the like counter on a public entry and checks the
// like milestone. The milestone check reads the entry row itself, so the
// notified owners are always those of the repository the entry belongs to.
func (a *API) handleLike(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entryID, ok := queryUUID(w, r, "entry")
	if !ok {
		return
	}

	ctx := r.Context()
	count, err := a.timelines.AddLike(ctx, entryID)
	if err != nil {
		a.log.Error().Err(err).Str("entry", entryID.String()).Msg("api: like failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := a.milestones.OnLike(ctx, entryID); err != nil {
		a.log.Error().Err(err).Str("entry", entryID.String()).Msg("api: like milestone check failed")
	}

	writeJSON(w, map[string]interface{}{"status": "liked", "likes": count})
}

// handleRead flags a user timeline entry as read.
func (a *API) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	entryID, ok := queryUUID(w, r, "entry")
	if !ok {
		return
	}

	if err := a.timelines.MarkRead(r.Context(), userID, entryID); err != nil {
		a.log.Error().Err(err).Str("entry", entryID.String()).Msg("api: mark read failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "read"})
}

// handleSnooze defers a user timeline entry until the given RFC 3339 time.
// The worker's sweep brings it back unread once the time passes.
func (a *API) handleSnooze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	entryID, ok := queryUUID(w, r, "entry")
	if !ok {
		return
	}
	until, err := time.Parse(time.RFC3339, r.URL.Query().Get("until"))
	if err != nil {
		http.Error(w, "until must be an RFC 3339 time", http.StatusBadRequest)
		return
	}
	if !until.After(time.Now()) {
		http.Error(w, "until must be in the future", http.StatusBadRequest)
		return
	}

	if err := a.timelines.Snooze(r.Context(), userID, entryID, until); err != nil {
		a.log.Error().Err(err).Str("entry", entryID.String()).Msg("api: snooze failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "snoozed", "until": until.Format(time.RFC3339)})
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		http.Error(w, fmt.Sprintf("%s must be a UUID", name), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
