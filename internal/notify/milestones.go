// Package notify emits milestone notifications when engagement counters
// cross the fixed threshold ladder.
//
// The at-most-once guarantee rests on the NotificationRecord unique triple,
// not on any scheduling discipline: invocations are safe to run concurrently
// with each other and with the batch worker.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

// Sender delivers one milestone notification. *Mailer implements it over
// sendgrid; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, recipients []feed.Subscriber, subject, body string) error
}

// Milestones checks engagement counters against the threshold ladder and
// notifies repo owners exactly once per crossed threshold.
type Milestones struct {
	timelines feed.TimelineStore
	repos     feed.RepoDirectory
	records   feed.NotificationStore
	sender    Sender
	log       zerolog.Logger
}

// NewMilestones creates a milestone notifier.
func NewMilestones(timelines feed.TimelineStore, repos feed.RepoDirectory, records feed.NotificationStore, sender Sender, log zerolog.Logger) *Milestones {
	return &Milestones{
		timelines: timelines,
		repos:     repos,
		records:   records,
		sender:    sender,
		log:       log,
	}
}

// OnLike runs the engagement check for a public timeline entry after a like
// was recorded. The entry row is the source of truth for both the repository
// whose owners get notified and the current like count.
func (m *Milestones) OnLike(ctx context.Context, entryID uuid.UUID) error {
	entry, err := m.timelines.PublicEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("entry lookup for %s: %w", entryID, err)
	}
	return m.check(ctx, feed.NotifyEngagementMilestone, entryID.String(), entry.RepoID, entry.Likes,
		"An activity in your repository reached %d likes")
}

// OnSubscribe runs the subscriber-count check for a repository after a new
// subscription.
func (m *Milestones) OnSubscribe(ctx context.Context, repoID uuid.UUID) error {
	count, err := m.repos.SubscriberCount(ctx, repoID)
	if err != nil {
		return fmt.Errorf("subscriber count for %s: %w", repoID, err)
	}
	return m.check(ctx, feed.NotifySubscriberMilestone, repoID.String(), repoID, count,
		"Your repository reached %d subscribers")
}

// check computes newly crossed thresholds and notifies for the highest one
// only: lower thresholds skipped in the same jump are never back-filled, and
// one invocation sends at most one notification.
func (m *Milestones) check(ctx context.Context, typ feed.NotificationType, entityID string, repoID uuid.UUID, count int64, subjectFormat string) error {
	notified, err := m.records.Notified(ctx, typ, entityID)
	if err != nil {
		return fmt.Errorf("notified lookup for %s/%s: %w", typ, entityID, err)
	}
	seen := make(map[int64]bool, len(notified))
	for _, th := range notified {
		seen[th] = true
	}

	var highest int64
	for _, th := range feed.MilestoneThresholds {
		if th <= count && !seen[th] {
			highest = th
		}
	}
	if highest == 0 {
		return nil
	}

	// Record before sending: the next invocation must see the threshold as
	// claimed even when the send itself fails.
	if err := m.records.Record(ctx, typ, entityID, highest); err != nil {
		return fmt.Errorf("failed to record milestone %d for %s/%s: %w", highest, typ, entityID, err)
	}

	owners, err := m.repos.Owners(ctx, repoID)
	if err != nil {
		return fmt.Errorf("owner lookup for repo %s: %w", repoID, err)
	}
	if len(owners) == 0 {
		m.log.Warn().Str("repo_id", repoID.String()).Msg("notify: milestone crossed but repo has no owners")
		return nil
	}

	subject := fmt.Sprintf(subjectFormat, highest)
	body := fmt.Sprintf("%s The current count is %d.", subject+".", count)
	if err := m.sender.Send(ctx, owners, subject, body); err != nil {
		// The record is already persisted; the milestone is spent.
		m.log.Error().Err(err).
			Str("type", string(typ)).
			Str("entity", entityID).
			Int64("threshold", highest).
			Msg("notify: milestone send failed")
		return nil
	}

	metrics.MilestoneNotifications.WithLabelValues(string(typ)).Inc()
	m.log.Info().
		Str("type", string(typ)).
		Str("entity", entityID).
		Int64("threshold", highest).
		Msg("notify: milestone notification sent")
	return nil
}
