//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/channel"
	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain/event"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/obs/retry"
	kafkax "github.com/NordCoder/Herald/internal/repository/kafka"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/ingest"
	"github.com/NordCoder/Herald/internal/services/limiter"
	"github.com/NordCoder/Herald/internal/services/resolver"
	"github.com/NordCoder/Herald/internal/services/scheduler"
)

type sentMail struct{ to, subject string }

type mailbox struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mailbox) SendMail(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject})
	return nil
}

func (m *mailbox) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

// An event on the workspace topic becomes a row per member, and the delivery
// sweep pushes it to the live bus and mails the recipient.
func TestPipeline_EventToLiveBusAndMail(t *testing.T) {
	f := newPG(t)
	log := zap.NewNop()
	clk := clock.System{}
	sqlDB := DBOpen(t, f.cfg.DBDSN)

	alice, bob := "alice-"+RandID(), "bob-"+RandID()
	SeedMembers(t, sqlDB, f.ws, alice, bob)
	SeedUser(t, sqlDB, bob, bob+"@herald.dev")
	t.Cleanup(func() {
		_, _ = sqlDB.Exec(`delete from users where id = $1`, bob)
		_, _ = sqlDB.Exec(`delete from notification_preferences where user_id in ($1, $2)`, alice, bob)
	})

	eventsTopic := "it.events." + RandID()
	liveTopic := "it.live." + RandID()
	EnsureTopic(t, f.cfg.KafkaBootstrap, eventsTopic)
	EnsureTopic(t, f.cfg.KafkaBootstrap, liveTopic)

	tx := pg.NewTransactor(f.db, log)
	notifs := pg.NewNotificationRepo(f.db)
	audits := pg.NewAuditRepo(f.db)
	res := resolver.New(pg.NewPreferenceRepo(f.db), tx, clk, log)
	eng := fanout.New(fanout.Deps{
		Notifications: notifs,
		Audit:         audits,
		Directory:     pg.NewMembershipRepo(f.db),
		Limiter:       limiter.New(pg.NewRateLimitRepo(f.db), clk),
		Resolver:      res,
		Tx:            tx,
		Clock:         clk,
		Log:           log,
	}, 100)

	ev := event.Event{
		ID:          "evt-" + RandID(),
		WorkspaceID: f.ws,
		Type:        "deal_won",
		Title:       "Deal closed",
		Priority:    "urgent",
		Exclude:     []string{alice},
		ActorID:     alice,
		OccurredAt:  time.Now().UTC(),
	}
	PublishJSON(t, f.cfg.KafkaBootstrap, eventsTopic, []byte(ev.WorkspaceID), ev)
	// redelivery of the same event must not duplicate the row
	PublishJSON(t, f.cfg.KafkaBootstrap, eventsTopic, []byte(ev.WorkspaceID), ev)

	cons := kafkax.NewConsumer(&kafkax.ConsumerConfig{
		Brokers:       []string{f.cfg.KafkaBootstrap},
		GroupID:       "it-dispatcher-" + RandID(),
		Topic:         eventsTopic,
		FromBeginning: true,
		Logger:        log,
	})
	t.Cleanup(func() { _ = cons.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl := &ingest.Controller{Log: log, Sub: cons, Fanout: eng, Policy: retry.DefaultIngestPolicy(log)}
	go func() { _ = ctrl.Run(ctx) }()

	countQ := `select count(*) from notifications where workspace_id = $1`
	require.Eventually(t, func() bool {
		return CountRows(t, sqlDB, countQ, f.ws) >= 1
	}, 30*time.Second, 250*time.Millisecond, "event never became a row")
	time.Sleep(2 * time.Second)
	assert.Equal(t, 1, CountRows(t, sqlDB, countQ, f.ws), "only bob, once")

	prod := kafkax.NewProducer([]string{f.cfg.KafkaBootstrap}, liveTopic).WithLogger(log)
	t.Cleanup(func() { _ = prod.Close() })
	mail := &mailbox{}
	machine := delivery.New(delivery.Deps{Notifications: notifs, Audit: audits, Tx: tx, Clock: clk, Log: log}, delivery.Config{})
	uc := &scheduler.Usecase{
		Repo:     notifs,
		Machine:  machine,
		Resolver: res,
		Channels: channel.Set{
			{Channel: notification.ChannelInApp, Sender: channel.NewPush(kafkax.NewLiveEventsKafka(prod), log)},
			{Channel: notification.ChannelEmail, Sender: channel.NewEmail(mail, pg.NewUserRepo(f.db), log)},
		},
		Clock:       clk,
		Lease:       time.Minute,
		SendTimeout: 10 * time.Second,
		Log:         log,
	}

	delivered := `select count(*) from notifications where workspace_id = $1 and status = 'delivered'`
	require.Eventually(t, func() bool {
		if _, err := uc.ProcessDue(context.Background(), 50); err != nil {
			return false
		}
		return CountRows(t, sqlDB, delivered, f.ws) == 1
	}, 30*time.Second, 500*time.Millisecond, "row never delivered")

	msg, ok := ReadOneJSON[kafkax.LiveMessage](t, f.cfg.KafkaBootstrap, liveTopic, "it-live-"+RandID(), 30*time.Second)
	require.True(t, ok, "no live bus message")
	assert.Equal(t, bob, msg.RecipientID)
	assert.Equal(t, f.ws, msg.WorkspaceID)
	assert.Equal(t, notification.CategoryDeals, msg.Category)

	sent := mail.all()
	require.Len(t, sent, 1)
	assert.Equal(t, bob+"@herald.dev", sent[0].to)
	assert.Equal(t, "[Urgent] Deal closed", sent[0].subject)
}
