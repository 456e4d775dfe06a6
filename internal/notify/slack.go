package notify

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

// SlackSender posts a message to a Slack channel via the Slack Web API
// (§4.C5.f / §4.C6 alert_channels).
type SlackSender struct {
	api     *goslack.Client
	Timeout time.Duration
}

// NewSlackSender builds a sender bound to token. destination passed to
// Send overrides the channel per call, matching how report/alert
// channels name a specific Slack channel per notification.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{api: goslack.New(token), Timeout: 10 * time.Second}
}

// Send posts body to the Slack channel named by destination.
func (s *SlackSender) Send(ctx context.Context, destination, subject, body string) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text := body
	if subject != "" {
		text = fmt.Sprintf("*%s*\n%s", subject, body)
	}
	_, _, err := s.api.PostMessageContext(ctx, destination, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post to %s failed: %w", destination, err)
	}
	return nil
}
