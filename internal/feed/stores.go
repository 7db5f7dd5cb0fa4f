package feed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownRepo is returned by RepoDirectory.Lookup when the (org, repo)
// pair is not configured in the system. Ingestion treats it as "accept and
// drop": the webhook gets a 200 but nothing is stored.
var ErrUnknownRepo = errors.New("repository not tracked")

// EventStore is the append-only raw event log plus the processed marker the
// worker flips after each batch.
type EventStore interface {
	// Append stores one validated webhook delivery. No dedup happens here.
	Append(ctx context.Context, ev *RawEvent) error

	// Unprocessed returns all events with no processed marker, oldest first.
	Unprocessed(ctx context.Context) ([]RawEvent, error)

	// MarkProcessed sets LastProcessed on every listed event, including
	// events whose individual processing failed.
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// RepoDirectory resolves webhook payloads to internal repositories and their
// subscribers.
type RepoDirectory interface {
	// Lookup finds the repository for an (org, repo) pair, matching
	// case-insensitively. Returns ErrUnknownRepo when not tracked.
	Lookup(ctx context.Context, org, repo string) (*Repository, error)

	// Subscribers returns every subscriber of the repo.
	Subscribers(ctx context.Context, repoID uuid.UUID) ([]Subscriber, error)

	// Owners returns the subscribers flagged as administrative owners.
	Owners(ctx context.Context, repoID uuid.UUID) ([]Subscriber, error)

	// SubscriberCount returns how many users follow the repo.
	SubscriberCount(ctx context.Context, repoID uuid.UUID) (int64, error)

	// Subscribe records a (user, repo) subscription. Idempotent: repeated
	// subscribes of the same pair are not an error.
	Subscribe(ctx context.Context, sub *Subscriber) error
}

// TimelineStore holds both feed projections. All mutation is upsert keyed by
// a natural idempotency key: DedupeHash for the public projection and
// (UserID, DedupeHash) for the user projection. There are no deletes.
type TimelineStore interface {
	// MergePublic inserts the entry or, on DedupeHash conflict, patches
	// data, score, updated_at and appends to event_ids in place.
	MergePublic(ctx context.Context, entry *PublicTimelineEntry) error

	// MergeUser behaves like MergePublic keyed by (UserID, DedupeHash).
	MergeUser(ctx context.Context, entry *UserTimelineEntry) error

	// PublicSince returns public entries for a repo updated after the given
	// time, used by the new-subscriber backfill.
	PublicSince(ctx context.Context, repoID uuid.UUID, since time.Time) ([]PublicTimelineEntry, error)

	// PublicEntry returns one public entry by ID. The milestone check uses
	// it to resolve the entry's repository and current like count.
	PublicEntry(ctx context.Context, entryID uuid.UUID) (*PublicTimelineEntry, error)

	// ReactivateSnoozed clears snooze_to and is_read on every entry in both
	// projections whose snooze_to has passed. Returns rows touched.
	ReactivateSnoozed(ctx context.Context, now time.Time) (int64, error)

	// MarkRead flags a user timeline entry as read.
	MarkRead(ctx context.Context, userID string, entryID uuid.UUID) error

	// Snooze defers a user timeline entry until the given time.
	Snooze(ctx context.Context, userID string, entryID uuid.UUID, until time.Time) error

	// AddLike increments the like counter on a public entry and returns the
	// new count.
	AddLike(ctx context.Context, entryID uuid.UUID) (int64, error)

	// LikeCount returns the current like count for a public entry.
	LikeCount(ctx context.Context, entryID uuid.UUID) (int64, error)
}

// NotificationStore tracks which milestone thresholds were already notified.
type NotificationStore interface {
	// Notified returns the thresholds already recorded for an entity.
	Notified(ctx context.Context, typ NotificationType, entityID string) ([]int64, error)

	// Record persists one crossed threshold. Inserting an already-recorded
	// triple must not error, so concurrent invocations stay idempotent.
	Record(ctx context.Context, typ NotificationType, entityID string, threshold int64) error
}
