// Package mail sends engine notifications through SendGrid. Email is always
// best-effort: an unset configuration disables it silently.
package mail

import (
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers plain-text notification emails.
type Mailer struct {
	client    *sendgrid.Client
	from      string
	recipient string
}

// New builds a Mailer; any empty argument returns a disabled mailer.
func New(apiKey, from, recipient string) *Mailer {
	m := &Mailer{from: from, recipient: recipient}
	if apiKey != "" && from != "" && recipient != "" {
		m.client = sendgrid.NewSendClient(apiKey)
	}
	return m
}

// Enabled reports whether sends will actually go out.
func (m *Mailer) Enabled() bool {
	return m != nil && m.client != nil
}

// Send delivers one email. Disabled mailers return nil without I/O.
func (m *Mailer) Send(subject, body string) error {
	if !m.Enabled() {
		return nil
	}

	msg := sgmail.NewSingleEmail(
		sgmail.NewEmail("XAU Engine", m.from),
		subject,
		sgmail.NewEmail("", m.recipient),
		body,
		body,
	)
	res, err := m.client.Send(msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d", res.StatusCode)
	}
	log.Printf("mail: sent %q to %s", subject, m.recipient)
	return nil
}
