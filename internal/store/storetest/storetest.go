// Package storetest provides in-memory implementations of the feed store
// interfaces for tests. They mirror the upsert-by-natural-key semantics of
// the postgres store closely enough to exercise the pipeline's idempotency
// invariants without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// EventStore is an in-memory feed.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events []feed.RawEvent
}

// NewEventStore creates an empty in-memory event log.
func NewEventStore() *EventStore { return &EventStore{} }

// Append implements feed.EventStore.
func (s *EventStore) Append(_ context.Context, ev *feed.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *ev)
	return nil
}

// Unprocessed implements feed.EventStore.
func (s *EventStore) Unprocessed(_ context.Context) ([]feed.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feed.RawEvent
	for _, ev := range s.events {
		if ev.LastProcessed == nil {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkProcessed implements feed.EventStore.
func (s *EventStore) MarkProcessed(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.events {
		if set[s.events[i].ID] {
			t := at
			s.events[i].LastProcessed = &t
		}
	}
	return nil
}

// All returns every stored event, for assertions.
func (s *EventStore) All() []feed.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.RawEvent(nil), s.events...)
}

// RepoDirectory is an in-memory feed.RepoDirectory.
type RepoDirectory struct {
	mu    sync.Mutex
	repos map[string]feed.Repository // "org/repo" lowercased
	subs  []feed.Subscriber
}

// NewRepoDirectory creates an empty in-memory directory.
func NewRepoDirectory() *RepoDirectory {
	return &RepoDirectory{repos: make(map[string]feed.Repository)}
}

// AddRepo registers a repository and returns it with an assigned ID.
func (d *RepoDirectory) AddRepo(org, repo string) feed.Repository {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := feed.Repository{
		ID:        uuid.New(),
		Org:       strings.ToLower(org),
		Repo:      strings.ToLower(repo),
		CreatedAt: time.Now().UTC(),
	}
	d.repos[r.Org+"/"+r.Repo] = r
	return r
}

// AddSubscriber registers a subscriber for a repo.
func (d *RepoDirectory) AddSubscriber(userID string, repoID uuid.UUID, owner bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, feed.Subscriber{
		UserID:    userID,
		RepoID:    repoID,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	})
}

// Lookup implements feed.RepoDirectory.
func (d *RepoDirectory) Lookup(_ context.Context, org, repo string) (*feed.Repository, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.repos[strings.ToLower(org)+"/"+strings.ToLower(repo)]
	if !ok {
		return nil, feed.ErrUnknownRepo
	}
	return &r, nil
}

// Subscribers implements feed.RepoDirectory.
func (d *RepoDirectory) Subscribers(_ context.Context, repoID uuid.UUID) ([]feed.Subscriber, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []feed.Subscriber
	for _, s := range d.subs {
		if s.RepoID == repoID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Owners implements feed.RepoDirectory.
func (d *RepoDirectory) Owners(_ context.Context, repoID uuid.UUID) ([]feed.Subscriber, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []feed.Subscriber
	for _, s := range d.subs {
		if s.RepoID == repoID && s.Owner {
			out = append(out, s)
		}
	}
	return out, nil
}

// SubscriberCount implements feed.RepoDirectory.
func (d *RepoDirectory) SubscriberCount(_ context.Context, repoID uuid.UUID) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, s := range d.subs {
		if s.RepoID == repoID {
			n++
		}
	}
	return n, nil
}

// Subscribe implements feed.RepoDirectory. Repeated subscriptions of the
// same (user, repo) pair are ignored.
func (d *RepoDirectory) Subscribe(_ context.Context, sub *feed.Subscriber) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.UserID == sub.UserID && s.RepoID == sub.RepoID {
			return nil
		}
	}
	d.subs = append(d.subs, *sub)
	return nil
}

// TimelineStore is an in-memory feed.TimelineStore.
type TimelineStore struct {
	mu     sync.Mutex
	public map[string]*feed.PublicTimelineEntry // dedupe_hash
	user   map[string]*feed.UserTimelineEntry   // user_id + "\x00" + dedupe_hash

	// FailUserWrites makes MergeUser return this error, for partial
	// fan-out tests.
	FailUserWrites error
}

// NewTimelineStore creates an empty in-memory timeline store.
func NewTimelineStore() *TimelineStore {
	return &TimelineStore{
		public: make(map[string]*feed.PublicTimelineEntry),
		user:   make(map[string]*feed.UserTimelineEntry),
	}
}

// MergePublic implements feed.TimelineStore.
func (s *TimelineStore) MergePublic(_ context.Context, entry *feed.PublicTimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	if existing, ok := s.public[entry.DedupeHash]; ok {
		existing.Type = entry.Type
		existing.Data = entry.Data
		existing.Score = entry.Score
		existing.UpdatedAt = entry.UpdatedAt
		existing.EventIDs = append(existing.EventIDs, entry.EventIDs...)
		return nil
	}
	cp := *entry
	s.public[entry.DedupeHash] = &cp
	return nil
}

// MergeUser implements feed.TimelineStore.
func (s *TimelineStore) MergeUser(_ context.Context, entry *feed.UserTimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUserWrites != nil {
		return s.FailUserWrites
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	key := entry.UserID + "\x00" + entry.DedupeHash
	if existing, ok := s.user[key]; ok {
		existing.Type = entry.Type
		existing.Data = entry.Data
		existing.Score = entry.Score
		existing.UpdatedAt = entry.UpdatedAt
		existing.Categories = entry.Categories
		existing.EventIDs = append(existing.EventIDs, entry.EventIDs...)
		return nil
	}
	cp := *entry
	s.user[key] = &cp
	return nil
}

// PublicSince implements feed.TimelineStore.
func (s *TimelineStore) PublicSince(_ context.Context, repoID uuid.UUID, since time.Time) ([]feed.PublicTimelineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feed.PublicTimelineEntry
	for _, e := range s.public {
		if e.RepoID == repoID && !e.UpdatedAt.Before(since) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// PublicEntry implements feed.TimelineStore.
func (s *TimelineStore) PublicEntry(_ context.Context, entryID uuid.UUID) (*feed.PublicTimelineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.public {
		if e.ID == entryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("public entry %s not found", entryID)
}

// ReactivateSnoozed implements feed.TimelineStore.
func (s *TimelineStore) ReactivateSnoozed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.public {
		if e.SnoozeTo != nil && !e.SnoozeTo.After(now) {
			e.SnoozeTo = nil
			e.IsRead = false
			n++
		}
	}
	for _, e := range s.user {
		if e.SnoozeTo != nil && !e.SnoozeTo.After(now) {
			e.SnoozeTo = nil
			e.IsRead = false
			n++
		}
	}
	return n, nil
}

// MarkRead implements feed.TimelineStore.
func (s *TimelineStore) MarkRead(_ context.Context, userID string, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.user {
		if e.ID == entryID && e.UserID == userID {
			e.IsRead = true
		}
	}
	return nil
}

// Snooze implements feed.TimelineStore.
func (s *TimelineStore) Snooze(_ context.Context, userID string, entryID uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.user {
		if e.ID == entryID && e.UserID == userID {
			t := until
			e.SnoozeTo = &t
		}
	}
	return nil
}

// AddLike implements feed.TimelineStore.
func (s *TimelineStore) AddLike(_ context.Context, entryID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.public {
		if e.ID == entryID {
			e.Likes++
			return e.Likes, nil
		}
	}
	return 0, nil
}

// LikeCount implements feed.TimelineStore.
func (s *TimelineStore) LikeCount(_ context.Context, entryID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.public {
		if e.ID == entryID {
			return e.Likes, nil
		}
	}
	return 0, nil
}

// Public returns every public entry, for assertions.
func (s *TimelineStore) Public() []feed.PublicTimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feed.PublicTimelineEntry
	for _, e := range s.public {
		out = append(out, *e)
	}
	return out
}

// User returns every user entry, for assertions.
func (s *TimelineStore) User() []feed.UserTimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feed.UserTimelineEntry
	for _, e := range s.user {
		out = append(out, *e)
	}
	return out
}

// PublicByHash returns the public entry for a hash, or nil.
func (s *TimelineStore) PublicByHash(hash string) *feed.PublicTimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.public[hash]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// NotificationStore is an in-memory feed.NotificationStore.
type NotificationStore struct {
	mu      sync.Mutex
	records map[string]bool
}

// NewNotificationStore creates an empty in-memory notification store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{records: make(map[string]bool)}
}

func notifKey(typ feed.NotificationType, entityID string, threshold int64) string {
	return string(typ) + "\x00" + entityID + "\x00" + strconv.FormatInt(threshold, 10)
}

// Notified implements feed.NotificationStore.
func (s *NotificationStore) Notified(_ context.Context, typ feed.NotificationType, entityID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, th := range feed.MilestoneThresholds {
		if s.records[notifKey(typ, entityID, th)] {
			out = append(out, th)
		}
	}
	return out, nil
}

// Record implements feed.NotificationStore.
func (s *NotificationStore) Record(_ context.Context, typ feed.NotificationType, entityID string, threshold int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[notifKey(typ, entityID, threshold)] = true
	return nil
}

var (
	_ feed.EventStore        = (*EventStore)(nil)
	_ feed.RepoDirectory     = (*RepoDirectory)(nil)
	_ feed.TimelineStore     = (*TimelineStore)(nil)
	_ feed.NotificationStore = (*NotificationStore)(nil)
)
