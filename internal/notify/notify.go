// Package notify implements the best-effort notification dispatch used
// by reporting (§4.C5.f) and guardrail alerting (§4.C6): Slack, email,
// and GitHub issues, each a thin wrapper so a channel failure can be
// recorded and skipped without aborting the others.
package notify

import (
	"context"
	"fmt"
)

// Channel is one configured notification target, identified by a
// "kind:destination" string (e.g. "slack:#security-alerts",
// "email:oncall@example.com", "github:org/repo").
type Channel string

// Sender delivers a single notification to one channel kind.
type Sender interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// Dispatcher fans a message out to every configured channel, collecting
// per-channel failures instead of stopping at the first one (§4.C5.f:
// "attempted best-effort ... failures are recorded ... never bubbled as
// report failure").
type Dispatcher struct {
	Senders map[string]Sender // keyed by channel kind: "slack", "email", "github"
}

// Dispatch sends subject/body to every channel in channels, returning the
// channels that were actually delivered and the errors for the ones that
// were not.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []string, subject, body string) (sent []string, errs []string) {
	for _, ch := range channels {
		kind, dest, ok := splitChannel(ch)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: malformed channel (want kind:destination)", ch))
			continue
		}
		sender, ok := d.Senders[kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: no sender configured for channel kind %q", ch, kind))
			continue
		}
		if err := sender.Send(ctx, dest, subject, body); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch, err))
			continue
		}
		sent = append(sent, ch)
	}
	return sent, errs
}

func splitChannel(ch string) (kind, destination string, ok bool) {
	for i := 0; i < len(ch); i++ {
		if ch[i] == ':' {
			return ch[:i], ch[i+1:], true
		}
	}
	return "", "", false
}
