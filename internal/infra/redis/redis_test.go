package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/collector/internal/core/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(Config{URL: "://nope"})
	assert.Error(t, err)
}

func TestRetryLock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := client.TryLock(ctx, "TX-1", "attempt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.TryLock(ctx, "TX-1", "attempt-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	require.NoError(t, client.Unlock(ctx, "TX-1", "attempt-1"))
	ok, _ = client.TryLock(ctx, "TX-1", "attempt-2", time.Second)
	assert.True(t, ok)

	// Expired locks free themselves.
	mr.FastForward(2 * time.Second)
	ok, _ = client.TryLock(ctx, "TX-1", "attempt-3", time.Second)
	assert.True(t, ok)
	assert.NoError(t, client.Health(ctx))
}

func TestRetryLock_OnlyOwnerReleases(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := client.TryLock(ctx, "TX-1", "attempt-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder releasing late must not free the current lock.
	require.NoError(t, client.Unlock(ctx, "TX-1", "attempt-1"))
	holder, err := mr.Get(retryLockKey("TX-1"))
	require.NoError(t, err)
	assert.Equal(t, "attempt-2", holder)

	ok, _ = client.TryLock(ctx, "TX-1", "attempt-3", time.Minute)
	assert.False(t, ok)

	require.NoError(t, client.Unlock(ctx, "TX-1", "attempt-2"))
	assert.False(t, mr.Exists(retryLockKey("TX-1")))
}

func TestAlertLedger(t *testing.T) {
	client, mr := newTestClient(t)
	ledger := NewAlertLedger(client, time.Hour)
	ctx := context.Background()

	fresh, err := ledger.MarkRaised(ctx, "TX-1", domain.AlertCriticalSeverity)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, mr.Exists("alert:TX-1:CRITICAL_SEVERITY"))

	fresh, err = ledger.MarkRaised(ctx, "TX-1", domain.AlertCriticalSeverity)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, _ = ledger.MarkRaised(ctx, "TX-1", domain.AlertMultipleRetriesFailed)
	assert.True(t, fresh)
}

func TestDeadLetterRepo(t *testing.T) {
	client, mr := newTestClient(t)
	repo := NewDeadLetterRepo(client, time.Hour)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Park(ctx, &domain.DeadLetter{
			ID:         fmt.Sprintf("dl-%d", i),
			Topic:      "OrderRejected",
			Offset:     int64(i),
			Value:      []byte("not json"),
			Stage:      "decode",
			Error:      "invalid character",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	items, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "dl-0", items[0].ID)
	assert.Equal(t, []byte("not json"), items[0].Value)

	require.NoError(t, repo.Remove(ctx, "dl-0"))
	n, _ = repo.Count(ctx)
	assert.Equal(t, 2, n)

	// Expired payloads are pruned from the index on read.
	mr.Del("dead_letter:dl-1")
	items, err = repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "dl-2", items[0].ID)
	n, _ = repo.Count(ctx)
	assert.Equal(t, 1, n)
}
