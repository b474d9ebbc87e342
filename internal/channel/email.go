package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/domain/membership"
	"github.com/NordCoder/Herald/internal/domain/notification"
)

type MailSender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Email renders a notification as a plain-text message. Recipients with no
// address on file are skipped, not failed.
type Email struct {
	mail  MailSender
	users membership.AddressBook
	log   *zap.Logger
}

func NewEmail(mail MailSender, users membership.AddressBook, log *zap.Logger) *Email {
	return &Email{mail: mail, users: users, log: log.With(zap.String("component", "channel.email"))}
}

func (e *Email) Send(ctx context.Context, n *notification.Notification) error {
	to, err := e.users.EmailOf(ctx, n.RecipientID)
	if errors.Is(err, membership.ErrNoAddress) {
		e.log.Debug("no email address, skipping", zap.String("user_id", n.RecipientID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve address: %w", err)
	}
	subject, body := render(n)
	if err := e.mail.SendMail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("email %s: %w", n.ID, err)
	}
	return nil
}

func render(n *notification.Notification) (string, string) {
	subject := n.Title
	if n.Priority == notification.PriorityUrgent {
		subject = "[Urgent] " + subject
	}
	var b strings.Builder
	b.WriteString(n.Title)
	b.WriteString("\n\n")
	if n.Body != "" {
		b.WriteString(n.Body)
		b.WriteString("\n\n")
	}
	if n.Entity != nil {
		fmt.Fprintf(&b, "Related %s: %s\n", n.Entity.Type, n.Entity.ID)
	}
	fmt.Fprintf(&b, "Sent %s\n", n.CreatedAt.UTC().Format(time.RFC1123))
	return subject, b.String()
}
