package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Mailer sends milestone notifications through sendgrid.
type Mailer struct {
	client   *sendgrid.Client
	fromName string
	fromMail string
}

// NewMailer creates a sendgrid-backed mailer.
func NewMailer(apiKey, fromName, fromMail string) *Mailer {
	return &Mailer{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromMail: fromMail,
	}
}

// Send implements Sender. Recipients without an email address on file are
// skipped.
func (m *Mailer) Send(_ context.Context, recipients []feed.Subscriber, subject, body string) error {
	from := mail.NewEmail(m.fromName, m.fromMail)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = subject

	p := mail.NewPersonalization()
	added := 0
	for _, r := range recipients {
		if r.Email == "" {
			continue
		}
		p.AddTos(mail.NewEmail(r.UserID, r.Email))
		added++
	}
	if added == 0 {
		return fmt.Errorf("no recipients with email addresses")
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", body))

	resp, err := m.client.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ Sender = (*Mailer)(nil)
