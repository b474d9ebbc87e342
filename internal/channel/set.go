// Package channel holds the delivery channels the retry scheduler drives.
package channel

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

type Route struct {
	Channel notification.Channel
	Sender  notification.Sender
}

// Set is the ordered list of configured channels.
type Set []Route

func (s Set) Channels() []notification.Channel {
	out := make([]notification.Channel, 0, len(s))
	for _, r := range s {
		out = append(out, r.Channel)
	}
	return out
}

// SendVia tries every route whose channel is in allowed, returns the
// channels that took the row and joins the failures. One failing channel does
// not stop the others.
func (s Set) SendVia(ctx context.Context, n *notification.Notification, allowed map[notification.Channel]bool) ([]notification.Channel, error) {
	var (
		sent []notification.Channel
		errs error
	)
	for _, r := range s {
		if !allowed[r.Channel] {
			continue
		}
		if err := r.Sender.Send(ctx, n); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Channel, err))
			continue
		}
		sent = append(sent, r.Channel)
	}
	return sent, errs
}
