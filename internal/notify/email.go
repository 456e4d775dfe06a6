package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
)

// EmailSender delivers a notification over SMTP. No pack repo imports an
// email SDK; the standard library's net/smtp is the only thing grounded
// here, used the same minimal way the teacher's internal/matrix package
// talks to an HTTP API directly rather than through a client SDK.
type EmailSender struct {
	SMTPAddr string
	From     string
}

// Send delivers a plaintext email to destination. ctx is accepted for
// interface symmetry with the other senders; net/smtp.SendMail has no
// context-aware variant in the standard library.
func (e *EmailSender) Send(ctx context.Context, destination, subject, body string) error {
	host, _, err := net.SplitHostPort(e.SMTPAddr)
	if err != nil {
		host = e.SMTPAddr
	}

	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", destination, subject, body)
	if err := smtp.SendMail(e.SMTPAddr, nil, e.From, []string{destination}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: smtp send to %s via %s failed: %w", destination, host, err)
	}
	return nil
}
