package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// NotificationStore records which milestone thresholds have been notified.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore creates a NotificationStore on the given connection.
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Notified returns the thresholds already recorded for an entity, ascending.
func (s *NotificationStore) Notified(ctx context.Context, typ feed.NotificationType, entityID string) ([]int64, error) {
	var records []feed.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("type = ? AND entity_id = ?", typ, entityID).
		Order("key ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	keys := make([]int64, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

// Record persists one crossed threshold. A conflict on the unique
// (type, entity_id, key) triple is ignored: a concurrent invocation already
// claimed the milestone, which is exactly the at-most-once guarantee.
func (s *NotificationStore) Record(ctx context.Context, typ feed.NotificationType, entityID string, threshold int64) error {
	rec := feed.NotificationRecord{
		ID:        uuid.New(),
		Type:      typ,
		EntityID:  entityID,
		Key:       threshold,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "entity_id"}, {Name: "key"}},
			DoNothing: true,
		}).
		Create(&rec).Error
}

var _ feed.NotificationStore = (*NotificationStore)(nil)
