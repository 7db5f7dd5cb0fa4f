// Package fanout merges scored, deduplicated entries into the public
// timeline and every relevant subscriber's personal timeline.
//
// All writes are upserts on the natural idempotency key, so applying the
// same entry twice, or applying a later event for the same activity, patches
// one row in place instead of duplicating it. The public and per-user writes
// for one event are deliberately independent: a failed user write does not
// roll back the public row. Partial fan-out is logged and surfaced, not
// undone.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

// Entry is one scored, deduplicated activity ready for fan-out.
type Entry struct {
	Type       feed.EventType
	Payload    feed.Payload
	Score      float64
	RepoID     uuid.UUID
	DedupeHash string
	EventID    uuid.UUID

	// Involvement maps lowercase logins to the categories that make the
	// activity personally relevant to them.
	Involvement map[string][]string
}

// Writer fans entries out to both timeline projections.
type Writer struct {
	timelines feed.TimelineStore
}

// NewWriter creates a Writer on the given timeline store.
func NewWriter(timelines feed.TimelineStore) *Writer {
	return &Writer{timelines: timelines}
}

// Write upserts the public row, then one row per subscriber. Subscribers
// whose user ID appears in the entry's involvement map get the categories
// facet; everyone else gets the entry untagged. Individual write failures
// are collected, not fatal to the remaining writes.
func (w *Writer) Write(ctx context.Context, entry Entry, subscribers []feed.Subscriber) error {
	now := time.Now().UTC()
	var errs []error

	pub := &feed.PublicTimelineEntry{
		Type:       entry.Type,
		Data:       entry.Payload,
		Score:      entry.Score,
		RepoID:     entry.RepoID,
		DedupeHash: entry.DedupeHash,
		UpdatedAt:  now,
		EventIDs:   []uuid.UUID{entry.EventID},
	}
	if err := w.timelines.MergePublic(ctx, pub); err != nil {
		metrics.FanoutErrors.WithLabelValues("public").Inc()
		log.Error().Err(err).Str("hash", entry.DedupeHash).Msg("fanout: public write failed")
		errs = append(errs, fmt.Errorf("public write: %w", err))
	} else {
		metrics.FanoutWrites.WithLabelValues("public").Inc()
	}

	for _, sub := range subscribers {
		usr := &feed.UserTimelineEntry{
			UserID:     sub.UserID,
			Type:       entry.Type,
			Data:       entry.Payload,
			Score:      entry.Score,
			RepoID:     entry.RepoID,
			DedupeHash: entry.DedupeHash,
			UpdatedAt:  now,
			EventIDs:   []uuid.UUID{entry.EventID},
			Categories: entry.Involvement[strings.ToLower(sub.UserID)],
		}
		if err := w.timelines.MergeUser(ctx, usr); err != nil {
			metrics.FanoutErrors.WithLabelValues("user").Inc()
			log.Error().Err(err).
				Str("hash", entry.DedupeHash).
				Str("user", sub.UserID).
				Msg("fanout: user write failed")
			errs = append(errs, fmt.Errorf("user write for %s: %w", sub.UserID, err))
			continue
		}
		metrics.FanoutWrites.WithLabelValues("user").Inc()
	}

	return errors.Join(errs...)
}

// backfillWindow is how far back new subscribers get public history copied
// into their personal timeline.
const backfillWindow = 30 * 24 * time.Hour

// Backfill copies the repo's recent public entries into one user's timeline.
// The (user_id, dedupe_hash) upsert key makes it naturally idempotent across
// repeated subscribe/unsubscribe cycles.
func (w *Writer) Backfill(ctx context.Context, userID string, repoID uuid.UUID) (int, error) {
	since := time.Now().UTC().Add(-backfillWindow)
	entries, err := w.timelines.PublicSince(ctx, repoID, since)
	if err != nil {
		return 0, fmt.Errorf("backfill for %s: %w", userID, err)
	}

	copied := 0
	for _, pub := range entries {
		usr := &feed.UserTimelineEntry{
			UserID:     userID,
			Type:       pub.Type,
			Data:       pub.Data,
			Score:      pub.Score,
			RepoID:     pub.RepoID,
			DedupeHash: pub.DedupeHash,
			UpdatedAt:  pub.UpdatedAt,
			EventIDs:   pub.EventIDs,
		}
		if err := w.timelines.MergeUser(ctx, usr); err != nil {
			return copied, fmt.Errorf("backfill for %s: %w", userID, err)
		}
		copied++
	}
	return copied, nil
}
