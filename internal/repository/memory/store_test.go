package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func row(id string, prio notification.Priority, at time.Time) *notification.Notification {
	return &notification.Notification{
		ID:          id,
		RecipientID: "bob",
		WorkspaceID: "ws",
		EventType:   "task_assigned",
		Category:    notification.CategoryTasks,
		Title:       id,
		Priority:    prio,
		Status:      notification.StatusCreated,
		CreatedAt:   at,
	}
}

func TestNotificationRepo_InsertDedupe(t *testing.T) {
	ctx := context.Background()
	repo := New().Notifications()

	a := row("a", notification.PriorityNormal, t0)
	a.DedupeKey = "evt-1"
	ok, err := repo.Insert(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	b := row("b", notification.PriorityNormal, t0)
	b.DedupeKey = "evt-1"
	ok, err = repo.Insert(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	c := row("c", notification.PriorityNormal, t0)
	c.RecipientID = "carol"
	c.DedupeKey = "evt-1"
	ok, err = repo.Insert(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok, "dedupe key is scoped to the recipient")

	_, err = repo.Insert(ctx, row("a", notification.PriorityNormal, t0))
	assert.Error(t, err)
}

func TestNotificationRepo_ClaimDueOrderAndLease(t *testing.T) {
	ctx := context.Background()
	repo := New().Notifications()

	future := t0.Add(time.Hour)
	later := row("later", notification.PriorityUrgent, t0)
	later.NextRetryAt = &future
	seen := row("seen", notification.PriorityHigh, t0)
	seen.Status = notification.StatusSeen
	spent := row("spent", notification.PriorityHigh, t0)
	spent.Status = notification.StatusFailed
	spent.RetryCount = 5

	for _, n := range []*notification.Notification{
		row("low-old", notification.PriorityLow, t0.Add(-time.Minute)),
		row("normal", notification.PriorityNormal, t0),
		row("urgent", notification.PriorityUrgent, t0.Add(time.Second)),
		row("low-new", notification.PriorityLow, t0),
		later, seen, spent,
	} {
		_, err := repo.Insert(ctx, n)
		require.NoError(t, err)
	}

	opts := notification.ClaimOptions{Now: t0.Add(time.Minute), Limit: 3, MaxAttempts: 5, Lease: time.Minute}
	got, err := repo.ClaimDue(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "normal", "low-old"}, ids(got))

	got, err = repo.ClaimDue(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"low-new"}, ids(got), "leased rows are skipped")

	opts.Now = opts.Now.Add(2 * time.Minute)
	got, err = repo.ClaimDue(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "normal", "low-old"}, ids(got), "expired leases are claimable again")
}

func TestNotificationRepo_ClaimsDeliveredRowsOwingRetry(t *testing.T) {
	ctx := context.Background()
	repo := New().Notifications()

	due := t0.Add(-time.Second)
	owing := row("owing", notification.PriorityNormal, t0)
	owing.Status = notification.StatusDelivered
	owing.DeliveredChannels = []notification.Channel{notification.ChannelInApp}
	owing.NextRetryAt = &due
	done := row("done", notification.PriorityNormal, t0)
	done.Status = notification.StatusDelivered
	for _, n := range []*notification.Notification{owing, done} {
		_, err := repo.Insert(ctx, n)
		require.NoError(t, err)
	}

	got, err := repo.ClaimDue(ctx, notification.ClaimOptions{Now: t0, Limit: 10, MaxAttempts: 5, Lease: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"owing"}, ids(got))
	assert.Equal(t, []notification.Channel{notification.ChannelInApp}, got[0].DeliveredChannels)
}

func TestNotificationRepo_ConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	repo := New().Notifications()
	for i := 0; i < 50; i++ {
		_, err := repo.Insert(ctx, row(fmt.Sprintf("n%02d", i), notification.PriorityNormal, t0))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := repo.ClaimDue(ctx, notification.ClaimOptions{Now: t0, Limit: 4, MaxAttempts: 5, Lease: time.Minute})
				if err != nil || len(got) == 0 {
					return
				}
				mu.Lock()
				for _, n := range got {
					claimed[n.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 50)
	for id, c := range claimed {
		assert.Equal(t, 1, c, id)
	}
}

func TestNotificationRepo_UpdateKeepsReadMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := New().Notifications()
	n := row("a", notification.PriorityNormal, t0)
	n.Read = true
	n.Status = notification.StatusSeen
	_, err := repo.Insert(ctx, n)
	require.NoError(t, err)

	stale := n.Clone()
	stale.Read = false
	require.NoError(t, repo.Update(ctx, stale))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func TestRateLimitRepo_Increment(t *testing.T) {
	ctx := context.Background()
	repo := New().RateLimits()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Increment(ctx, "ws", t0)
		}()
	}
	wg.Wait()

	c, err := repo.Increment(ctx, "ws", t0)
	require.NoError(t, err)
	assert.Equal(t, 21, c)

	c, err = repo.Increment(ctx, "ws", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, c, "a new window starts from zero")

	n, err := repo.DeleteOlderThan(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func ids(ns []*notification.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}
