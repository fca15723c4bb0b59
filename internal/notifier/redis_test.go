package notifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestNotifier(t *testing.T) (*RedisNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	n, err := New(Config{URL: mr.Addr(), Channel: "test:bans"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	return n, mr
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := New(Config{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, "gatekeeper:bans", n.channel)
	assert.Equal(t, "ban:", n.prefix)
	assert.Equal(t, 1024, cap(n.queue))
	assert.NoError(t, n.Ping(context.Background()))
}

func TestNotify_BannedSetsKeyWithTTL(t *testing.T) {
	n, mr := newTestNotifier(t)

	n.Notify(models.BanEvent{
		Type:      models.EventBanned,
		ClientID:  "198.51.100.4",
		At:        epoch,
		ExpiresAt: epoch.Add(15 * time.Minute),
		Attempts:  3,
	})

	require.Eventually(t, func() bool {
		return mr.Exists("ban:198.51.100.4")
	}, time.Second, 5*time.Millisecond)

	val, err := mr.Get("ban:198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(15*time.Minute).Format(time.RFC3339Nano), val)
	assert.Equal(t, 15*time.Minute, mr.TTL("ban:198.51.100.4"))
}

func TestNotify_LiftedDeletesKey(t *testing.T) {
	n, mr := newTestNotifier(t)

	require.NoError(t, mr.Set("ban:a", "x"))

	n.Notify(models.BanEvent{Type: models.EventLifted, ClientID: "a", At: epoch})

	require.Eventually(t, func() bool {
		return !mr.Exists("ban:a")
	}, time.Second, 5*time.Millisecond)
}

func TestNotify_Publishes(t *testing.T) {
	n, mr := newTestNotifier(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "test:bans")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := models.BanEvent{
		Type:      models.EventBanned,
		ClientID:  "c",
		At:        epoch,
		ExpiresAt: epoch.Add(time.Minute),
		Attempts:  5,
	}
	n.Notify(event)

	select {
	case msg := <-sub.Channel():
		var got models.BanEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.Type, got.Type)
		assert.Equal(t, event.ClientID, got.ClientID)
		assert.Equal(t, event.Attempts, got.Attempts)
		assert.True(t, event.ExpiresAt.Equal(got.ExpiresAt))
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestNotify_AfterCloseIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := New(Config{URL: mr.Addr()})
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.NoError(t, n.Close(), "close is idempotent")

	assert.NotPanics(t, func() {
		n.Notify(models.BanEvent{Type: models.EventBanned, ClientID: "late", At: epoch, ExpiresAt: epoch.Add(time.Minute)})
	})
	assert.False(t, mr.Exists("ban:late"))
}

func TestClose_DrainsQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := New(Config{URL: mr.Addr()})
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		n.Notify(models.BanEvent{Type: models.EventBanned, ClientID: id, At: epoch, ExpiresAt: epoch.Add(time.Hour)})
	}
	require.NoError(t, n.Close())

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, mr.Exists("ban:"+id), id)
	}
}

func TestNotify_RedisDownDoesNotBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := New(Config{URL: mr.Addr(), QueueSize: 2, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	mr.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Notify(models.BanEvent{Type: models.EventBanned, ClientID: "x", At: epoch, ExpiresAt: epoch.Add(time.Minute)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked while redis was down")
	}
	_ = n.Close()
}
