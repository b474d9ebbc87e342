package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/repository/memory"
)

type recordSender struct {
	err   error
	calls int
}

func (r *recordSender) Send(context.Context, *notification.Notification) error {
	r.calls++
	return r.err
}

func sample() *notification.Notification {
	return &notification.Notification{
		ID:          "n1",
		RecipientID: "u1",
		WorkspaceID: "ws1",
		EventType:   "deal_won",
		Title:       "Deal closed",
		Body:        "ACME signed",
		Priority:    notification.PriorityNormal,
		Entity:      &notification.LinkedEntity{Type: "deal", ID: "d-9"},
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSet_SendViaTriesEveryAllowedChannel(t *testing.T) {
	push := &recordSender{err: errors.New("bus down")}
	mail := &recordSender{}
	s := Set{
		{Channel: notification.ChannelInApp, Sender: push},
		{Channel: notification.ChannelEmail, Sender: mail},
	}

	sent, err := s.SendVia(context.Background(), sample(), map[notification.Channel]bool{
		notification.ChannelInApp: true,
		notification.ChannelEmail: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in_app")
	assert.Equal(t, []notification.Channel{notification.ChannelEmail}, sent)
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 1, mail.calls)

	sent, err = s.SendVia(context.Background(), sample(), map[notification.Channel]bool{notification.ChannelEmail: true})
	require.NoError(t, err)
	assert.Equal(t, []notification.Channel{notification.ChannelEmail}, sent)
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 2, mail.calls)
}

type fakeMail struct {
	to, subject, body string
	err               error
}

func (f *fakeMail) SendMail(_ context.Context, to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func TestEmail_SkipsUsersWithoutAddress(t *testing.T) {
	st := memory.New()
	mail := &fakeMail{}
	e := NewEmail(mail, st.Directory(), zap.NewNop())

	require.NoError(t, e.Send(context.Background(), sample()))
	assert.Empty(t, mail.to)
}

func TestEmail_RendersAndSends(t *testing.T) {
	st := memory.New()
	st.Directory().SetEmail("u1", "u1@example.com")
	mail := &fakeMail{}
	e := NewEmail(mail, st.Directory(), zap.NewNop())

	n := sample()
	n.Priority = notification.PriorityUrgent
	require.NoError(t, e.Send(context.Background(), n))
	assert.Equal(t, "u1@example.com", mail.to)
	assert.Equal(t, "[Urgent] Deal closed", mail.subject)
	assert.Contains(t, mail.body, "ACME signed")
	assert.Contains(t, mail.body, "Related deal: d-9")

	mail.err = errors.New("550 mailbox unavailable")
	require.Error(t, e.Send(context.Background(), n))
}

type flakyBus struct {
	fails int
	calls int
}

func (f *flakyBus) PublishNotification(context.Context, *notification.Notification) error {
	f.calls++
	if f.calls <= f.fails {
		return errors.New("leader not available")
	}
	return nil
}

func TestPush_RetriesShortBrokerErrors(t *testing.T) {
	bus := &flakyBus{fails: 1}
	p := NewPush(bus, zap.NewNop())

	require.NoError(t, p.Send(context.Background(), sample()))
	assert.Equal(t, 2, bus.calls)

	bus = &flakyBus{fails: 10}
	p = NewPush(bus, zap.NewNop())
	require.Error(t, p.Send(context.Background(), sample()))
	assert.Equal(t, 3, bus.calls)
}
