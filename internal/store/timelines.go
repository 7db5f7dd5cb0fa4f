package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// TimelineStore is the postgres-backed pair of feed projections.
type TimelineStore struct {
	db *gorm.DB
}

// NewTimelineStore creates a TimelineStore on the given connection.
func NewTimelineStore(db *gorm.DB) *TimelineStore {
	return &TimelineStore{db: db}
}

// MergePublic upserts a public entry keyed by dedupe_hash. On conflict the
// mutable fields are patched in place and the new event IDs are appended to
// the existing list; likes, read and snooze state stay untouched.
func (s *TimelineStore) MergePublic(ctx context.Context, entry *feed.PublicTimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dedupe_hash"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"type":       entry.Type,
				"data":       entry.Data,
				"score":      entry.Score,
				"updated_at": entry.UpdatedAt,
				"event_ids":  gorm.Expr("public_timeline.event_ids || excluded.event_ids"),
			}),
		}).
		Create(entry).Error
}

// MergeUser upserts a user entry keyed by (user_id, dedupe_hash).
func (s *TimelineStore) MergeUser(ctx context.Context, entry *feed.UserTimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "dedupe_hash"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"type":       entry.Type,
				"data":       entry.Data,
				"score":      entry.Score,
				"updated_at": entry.UpdatedAt,
				"categories": entry.Categories,
				"event_ids":  gorm.Expr("user_timeline.event_ids || excluded.event_ids"),
			}),
		}).
		Create(entry).Error
}

// PublicSince returns public entries for a repo updated after the cutoff,
// newest first.
func (s *TimelineStore) PublicSince(ctx context.Context, repoID uuid.UUID, since time.Time) ([]feed.PublicTimelineEntry, error) {
	var entries []feed.PublicTimelineEntry
	err := s.db.WithContext(ctx).
		Where("repo_id = ? AND updated_at >= ?", repoID, since).
		Order("updated_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PublicEntry returns one public entry by ID.
func (s *TimelineStore) PublicEntry(ctx context.Context, entryID uuid.UUID) (*feed.PublicTimelineEntry, error) {
	var entry feed.PublicTimelineEntry
	if err := s.db.WithContext(ctx).Where("id = ?", entryID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReactivateSnoozed clears snooze_to and is_read on every entry whose
// snooze_to has passed, in both projections. Returns total rows touched.
func (s *TimelineStore) ReactivateSnoozed(ctx context.Context, now time.Time) (int64, error) {
	patch := map[string]interface{}{"snooze_to": nil, "is_read": false}

	pub := s.db.WithContext(ctx).
		Model(&feed.PublicTimelineEntry{}).
		Where("snooze_to IS NOT NULL AND snooze_to <= ?", now).
		Updates(patch)
	if pub.Error != nil {
		return 0, pub.Error
	}

	usr := s.db.WithContext(ctx).
		Model(&feed.UserTimelineEntry{}).
		Where("snooze_to IS NOT NULL AND snooze_to <= ?", now).
		Updates(patch)
	if usr.Error != nil {
		return pub.RowsAffected, usr.Error
	}

	return pub.RowsAffected + usr.RowsAffected, nil
}

// MarkRead flags a user timeline entry as read.
func (s *TimelineStore) MarkRead(ctx context.Context, userID string, entryID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&feed.UserTimelineEntry{}).
		Where("id = ? AND user_id = ?", entryID, userID).
		Update("is_read", true).Error
}

// Snooze defers a user timeline entry until the given time.
func (s *TimelineStore) Snooze(ctx context.Context, userID string, entryID uuid.UUID, until time.Time) error {
	return s.db.WithContext(ctx).
		Model(&feed.UserTimelineEntry{}).
		Where("id = ? AND user_id = ?", entryID, userID).
		Update("snooze_to", until).Error
}

// AddLike increments the like counter on a public entry and returns the new
// count. The increment is done in SQL so concurrent likes do not race.
func (s *TimelineStore) AddLike(ctx context.Context, entryID uuid.UUID) (int64, error) {
	err := s.db.WithContext(ctx).
		Model(&feed.PublicTimelineEntry{}).
		Where("id = ?", entryID).
		Update("likes", gorm.Expr("likes + 1")).Error
	if err != nil {
		return 0, err
	}
	return s.LikeCount(ctx, entryID)
}

// LikeCount returns the current like count for a public entry.
func (s *TimelineStore) LikeCount(ctx context.Context, entryID uuid.UUID) (int64, error) {
	var entry feed.PublicTimelineEntry
	err := s.db.WithContext(ctx).
		Select("likes").
		Where("id = ?", entryID).
		First(&entry).Error
	if err != nil {
		return 0, err
	}
	return entry.Likes, nil
}

var _ feed.TimelineStore = (*TimelineStore)(nil)
