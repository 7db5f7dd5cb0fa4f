package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// EventStore is the postgres-backed raw event log.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates an EventStore on the given connection.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Append stores one validated delivery. IDs and timestamps are filled in when
// the caller left them zero.
func (s *EventStore) Append(ctx context.Context, ev *feed.RawEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(ev).Error
}

// Unprocessed returns every event without a processed marker, oldest first.
// Oldest-first preserves the causal order of activity on a repo within one
// batch run.
func (s *EventStore) Unprocessed(ctx context.Context) ([]feed.RawEvent, error) {
	var events []feed.RawEvent
	err := s.db.WithContext(ctx).
		Where("last_processed IS NULL").
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkProcessed stamps LastProcessed on every listed event.
func (s *EventStore) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&feed.RawEvent{}).
		Where("id IN ?", ids).
		Update("last_processed", at).Error
}

var _ feed.EventStore = (*EventStore)(nil)
