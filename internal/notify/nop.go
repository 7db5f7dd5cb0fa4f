package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// NopSender logs milestone notifications instead of delivering them. Used
// when no mail provider is configured: milestones are still recorded, so
// enabling mail later does not replay old crossings.
type NopSender struct {
	Log zerolog.Logger
}

// Send implements Sender.
func (s NopSender) Send(_ context.Context, recipients []feed.Subscriber, subject, _ string) error {
	s.Log.Info().
		Int("recipients", len(recipients)).
		Str("subject", subject).
		Msg("notify: mail disabled, dropping notification")
	return nil
}

var _ Sender = NopSender{}
