// Package store implements the feed store interfaces on postgres via gorm.
//
// All timeline mutation goes through upsert-on-conflict keyed by the natural
// idempotency key (dedupe_hash, (user_id, dedupe_hash), or the notification
// triple) rather than locks. That is the core resource-safety strategy of
// the pipeline and must survive any schema change here.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Open connects to postgres with the given DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the pipeline schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&feed.RawEvent{},
		&feed.Repository{},
		&feed.Subscriber{},
		&feed.PublicTimelineEntry{},
		&feed.UserTimelineEntry{},
		&feed.NotificationRecord{},
	)
}
