package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/channel"
	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
	"github.com/NordCoder/Herald/internal/repository/memory"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/resolver"
)

type senderFunc func(ctx context.Context, n *notification.Notification) error

func (f senderFunc) Send(ctx context.Context, n *notification.Notification) error { return f(ctx, n) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st      *memory.Store
	clk     *clock.Manual
	res     *resolver.Resolver
	machine *delivery.Machine
	uc      *Usecase
	sends   atomic.Int64
	fail    atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{st: memory.New(), clk: clock.NewManual(t0)}
	f.res = resolver.New(f.st.Preferences(), f.st.Transactor(), f.clk, zap.NewNop())
	var seq atomic.Int64
	f.machine = delivery.New(delivery.Deps{
		Notifications: f.st.Notifications(),
		Audit:         f.st.Audit(),
		Tx:            f.st.Transactor(),
		Clock:         f.clk,
		Log:           zap.NewNop(),
		NewID:         func() string { return fmt.Sprintf("a-%05d", seq.Add(1)) },
	}, delivery.Config{MaxAttempts: 5, BackoffCap: time.Hour})

	push := senderFunc(func(ctx context.Context, n *notification.Notification) error {
		f.sends.Add(1)
		if f.fail.Load() {
			return errors.New("bus unavailable")
		}
		return nil
	})
	f.uc = &Usecase{
		Repo:        f.st.Notifications(),
		Machine:     f.machine,
		Resolver:    f.res,
		Channels:    channel.Set{{Channel: notification.ChannelInApp, Sender: push}},
		Clock:       f.clk,
		Lease:       2 * time.Minute,
		SendTimeout: time.Second,
		Log:         zap.NewNop(),
	}
	return f
}

func (f *fixture) insert(t *testing.T, id string, prio notification.Priority, created time.Time) {
	t.Helper()
	ok, err := f.st.Notifications().Insert(context.Background(), &notification.Notification{
		ID: id, RecipientID: "u1", WorkspaceID: "ws1", EventType: "task_updated",
		Category: notification.CategoryTasks, Title: id, Priority: prio,
		Status: notification.StatusCreated, CreatedAt: created,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) get(t *testing.T, id string) *notification.Notification {
	t.Helper()
	n, err := f.st.Notifications().Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestProcessDue_DeliversAndAudits(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "n1", notification.PriorityNormal, t0)

	res, err := f.uc.ProcessDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeDelivered, res[0].Outcome)

	n := f.get(t, "n1")
	assert.Equal(t, notification.StatusDelivered, n.Status)
	require.NotNil(t, n.DeliveredAt)
	assert.Nil(t, n.LockedUntil)

	entries, err := f.st.Audit().ListByNotification(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.Action(notification.StatusDelivered), entries[0].Action)

	res, err = f.uc.ProcessDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestProcessDue_BackoffUntilPermanentFailure(t *testing.T) {
	f := newFixture(t)
	f.fail.Store(true)
	f.insert(t, "n1", notification.PriorityNormal, t0)
	ctx := context.Background()

	for attempt := 1; attempt <= 5; attempt++ {
		res, err := f.uc.ProcessDue(ctx, 10)
		require.NoError(t, err)
		require.Len(t, res, 1, "attempt %d", attempt)

		n := f.get(t, "n1")
		assert.Equal(t, attempt, n.RetryCount)
		if attempt < 5 {
			assert.Equal(t, OutcomeRetrying, res[0].Outcome)
			require.NotNil(t, n.NextRetryAt)
			assert.Equal(t, f.clk.Now().Add(time.Duration(1<<attempt)*time.Second), *n.NextRetryAt)

			// Not due yet.
			res, err = f.uc.ProcessDue(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, res)

			f.clk.Set(*n.NextRetryAt)
		} else {
			assert.Equal(t, OutcomeExhausted, res[0].Outcome)
			assert.Equal(t, notification.StatusFailed, n.Status)
			assert.Nil(t, n.NextRetryAt)
		}
	}

	f.clk.Advance(24 * time.Hour)
	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.EqualValues(t, 5, f.sends.Load())
	assert.Nil(t, f.get(t, "n1").NextRetryAt)
}

func TestProcessDue_RetrySuccessDelivers(t *testing.T) {
	f := newFixture(t)
	f.fail.Store(true)
	f.insert(t, "n1", notification.PriorityNormal, t0)
	ctx := context.Background()

	_, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusRetrying, f.get(t, "n1").Status)

	f.fail.Store(false)
	f.clk.Advance(time.Minute)
	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeDelivered, res[0].Outcome)
	assert.Equal(t, notification.StatusDelivered, f.get(t, "n1").Status)
}

func TestProcessDue_PriorityThenAge(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "old-normal", notification.PriorityNormal, t0.Add(-time.Hour))
	f.insert(t, "new-urgent", notification.PriorityUrgent, t0)
	f.insert(t, "old-urgent", notification.PriorityUrgent, t0.Add(-time.Minute))

	var order []string
	for i := 0; i < 3; i++ {
		res, err := f.uc.ProcessDue(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		order = append(order, res[0].ID)
	}
	assert.Equal(t, []string{"old-urgent", "new-urgent", "old-normal"}, order)
}

func TestProcessDue_ConcurrentSweepersClaimOnce(t *testing.T) {
	f := newFixture(t)
	const rows = 60
	for i := 0; i < rows; i++ {
		f.insert(t, fmt.Sprintf("n%03d", i), notification.PriorityNormal, t0.Add(time.Duration(i)*time.Millisecond))
	}

	var wg sync.WaitGroup
	var delivered atomic.Int64
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := f.uc.ProcessDue(context.Background(), 7)
				if err != nil || len(res) == 0 {
					return
				}
				for _, r := range res {
					if r.Outcome == OutcomeDelivered {
						delivered.Add(1)
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, rows, delivered.Load())
	assert.EqualValues(t, rows, f.sends.Load())
}

func TestProcessDue_QuietHoursDeferWithoutSpendingAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clk.Set(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))

	on := true
	_, err := f.res.UpdatePreferences(ctx, "u1", "", preference.Patch{
		QuietEnabled: &on,
		QuietStart:   &preference.ClockTime{Hour: 22},
		QuietEnd:     &preference.ClockTime{Hour: 8},
	})
	require.NoError(t, err)
	f.insert(t, "n1", notification.PriorityNormal, f.clk.Now())

	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeDeferred, res[0].Outcome)

	n := f.get(t, "n1")
	assert.Equal(t, notification.StatusCreated, n.Status)
	assert.Zero(t, n.RetryCount)
	require.NotNil(t, n.NextRetryAt)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), *n.NextRetryAt)
	assert.Zero(t, f.sends.Load())

	f.clk.Set(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	res, err = f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, res)

	f.clk.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	res, err = f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeDelivered, res[0].Outcome)
	assert.EqualValues(t, 1, f.sends.Load())
}

func TestProcessDue_TimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.uc.SendTimeout = 20 * time.Millisecond
	f.uc.Channels = channel.Set{{Channel: notification.ChannelInApp, Sender: senderFunc(
		func(ctx context.Context, _ *notification.Notification) error {
			<-ctx.Done()
			return ctx.Err()
		})}}
	f.insert(t, "n1", notification.PriorityNormal, t0)

	res, err := f.uc.ProcessDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeRetrying, res[0].Outcome)
	require.ErrorIs(t, res[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.get(t, "n1").RetryCount)
}

func TestProcessDue_ReadDuringSendSupersedesFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.uc.Channels = channel.Set{{Channel: notification.ChannelInApp, Sender: senderFunc(
		func(ctx context.Context, n *notification.Notification) error {
			_, err := f.machine.MarkRead(ctx, n.ID, n.RecipientID)
			require.NoError(t, err)
			return errors.New("bus unavailable")
		})}}
	f.insert(t, "n1", notification.PriorityNormal, t0)

	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeSuperseded, res[0].Outcome)

	n := f.get(t, "n1")
	assert.True(t, n.Read)
	assert.Equal(t, notification.StatusSeen, n.Status)
	assert.Zero(t, n.RetryCount)
}

func TestProcessDue_NoEligibleChannelIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	off := false
	_, err := f.res.UpdatePreferences(ctx, "u1", "", preference.Patch{InApp: &off})
	require.NoError(t, err)
	f.insert(t, "n1", notification.PriorityNormal, t0)

	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeNoChannel, res[0].Outcome)
	assert.Zero(t, f.sends.Load())

	n := f.get(t, "n1")
	assert.Equal(t, notification.StatusDelivered, n.Status)
	assert.Empty(t, n.DeliveredChannels)

	entries, err := f.st.Audit().ListByNotification(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{}, entries[0].Metadata["channels"])
	assert.Equal(t, "no_eligible_channel", entries[0].Metadata["reason"])
}

func TestProcessDue_FailingEmailDoesNotRepush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var mails atomic.Int64
	push := f.uc.Channels.(channel.Set)[0]
	f.uc.Channels = channel.Set{push, {Channel: notification.ChannelEmail, Sender: senderFunc(
		func(context.Context, *notification.Notification) error {
			mails.Add(1)
			return errors.New("smtp unavailable")
		})}}
	f.insert(t, "n1", notification.PriorityNormal, t0)

	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomePartial, res[0].Outcome)

	n := f.get(t, "n1")
	assert.Equal(t, notification.StatusDelivered, n.Status)
	require.NotNil(t, n.DeliveredAt)
	assert.Equal(t, t0, *n.DeliveredAt)
	require.NotNil(t, n.NextRetryAt, "email is retried")

	for i := 0; i < 10; i++ {
		f.clk.Advance(2 * time.Hour)
		_, err := f.uc.ProcessDue(ctx, 10)
		require.NoError(t, err)
	}

	n = f.get(t, "n1")
	assert.EqualValues(t, 1, f.sends.Load(), "push goes out once")
	assert.EqualValues(t, 5, mails.Load())
	assert.Equal(t, notification.StatusDelivered, n.Status)
	assert.Equal(t, t0, *n.DeliveredAt)
	assert.Equal(t, 5, n.RetryCount)
	assert.Nil(t, n.NextRetryAt)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp}, n.DeliveredChannels)
	assert.Contains(t, n.LastError, "smtp unavailable")

	entries, err := f.st.Audit().ListByNotification(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, audit.ActionChannelFailed, e.Action)
		assert.Equal(t, notification.StatusDelivered, e.NewStatus)
	}
}

func TestProcessDue_RecoveredEmailFinishesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var mailDown atomic.Bool
	mailDown.Store(true)
	push := f.uc.Channels.(channel.Set)[0]
	f.uc.Channels = channel.Set{push, {Channel: notification.ChannelEmail, Sender: senderFunc(
		func(context.Context, *notification.Notification) error {
			if mailDown.Load() {
				return errors.New("smtp unavailable")
			}
			return nil
		})}}
	f.insert(t, "n1", notification.PriorityNormal, t0)

	_, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)

	mailDown.Store(false)
	f.clk.Advance(time.Hour)
	res, err := f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeDelivered, res[0].Outcome)

	n := f.get(t, "n1")
	assert.Nil(t, n.NextRetryAt)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp, notification.ChannelEmail}, n.DeliveredChannels)
	assert.EqualValues(t, 1, f.sends.Load())

	f.clk.Advance(time.Hour)
	res, err = f.uc.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "n1", notification.PriorityNormal, t0)

	ctx, cancel := context.WithCancel(context.Background())
	r := New(zap.NewNop(), f.uc, Config{Tick: 10 * time.Millisecond, BatchSize: 10, Workers: 3})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.get(t, "n1").Status == notification.StatusDelivered
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
