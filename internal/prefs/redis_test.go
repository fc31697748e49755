package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBackendRoundTrip(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	s, err := NewStore(NewRedisBackend(client, "test:"), nil, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, KeyDialogStats, map[string]any{"abc": map[string]int{"displayCount": 1}}))
	assert.True(t, mr.Exists("test:"+KeyDialogStats))

	var got map[string]map[string]int
	ok, err := s.Get(ctx, KeyDialogStats, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got["abc"]["displayCount"])

	ok, err = s.IsSet(ctx, KeyEvents)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendNotifiesOtherProcesses(t *testing.T) {
	_, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer, err := NewStore(NewRedisBackend(client, "shared:"), nil, discardLogger())
	require.NoError(t, err)
	reader, err := NewStore(NewRedisBackend(client, "shared:"), nil, discardLogger())
	require.NoError(t, err)

	changed := make(chan string, 1)
	reader.On(KeyTimings, func(key string) { changed <- key })

	selfNotified := make(chan string, 4)
	writer.On(KeyTimings, func(key string) { selfNotified <- key })

	require.NoError(t, reader.Watch(ctx))
	require.NoError(t, writer.Watch(ctx))

	require.NoError(t, writer.Set(ctx, KeyTimings, map[string]any{}))

	select {
	case key := <-changed:
		assert.Equal(t, KeyTimings, key)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not notified")
	}

	// The writer hears its own write once, locally, not again over pub/sub.
	assert.Equal(t, KeyTimings, <-selfNotified)
	select {
	case <-selfNotified:
		t.Fatal("writer was notified twice")
	case <-time.After(100 * time.Millisecond):
	}
}
