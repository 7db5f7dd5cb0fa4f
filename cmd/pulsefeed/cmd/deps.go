package cmd

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pulsefeed/pulsefeed/internal/bootstrap"
	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/fanout"
	"github.com/pulsefeed/pulsefeed/internal/notify"
	"github.com/pulsefeed/pulsefeed/internal/store"
)

// stores bundles the database-backed stores every command wires up.
type stores struct {
	db         *gorm.DB
	events     *store.EventStore
	repos      *store.RepoDirectory
	timelines  *store.TimelineStore
	records    *store.NotificationStore
	writer     *fanout.Writer
	milestones *notify.Milestones
}

// loadConfig reads and validates the configuration for a command.
func loadConfig(needDB, needSummarizer bool) (*config.Config, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		bootstrap.SetDebug()
	}
	if err := cfg.Validate(needDB, needSummarizer); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStores connects to postgres and builds the store layer.
func openStores(cfg *config.Config) (*stores, error) {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &stores{
		db:        db,
		events:    store.NewEventStore(db),
		repos:     store.NewRepoDirectory(db),
		timelines: store.NewTimelineStore(db),
		records:   store.NewNotificationStore(db),
	}
	s.writer = fanout.NewWriter(s.timelines)
	s.milestones = notify.NewMilestones(s.timelines, s.repos, s.records, newSender(cfg), bootstrap.Logger("notify"))
	return s, nil
}

// newSender picks the milestone mail transport: SendGrid when a key is
// configured, a logging no-op otherwise.
func newSender(cfg *config.Config) notify.Sender {
	if cfg.SendGridKey == "" {
		return notify.NopSender{Log: bootstrap.Logger("notify")}
	}
	return notify.NewMailer(cfg.SendGridKey, cfg.MailFromName, cfg.MailFrom)
}
