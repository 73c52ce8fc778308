package sessions_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/realmkit/realmkit/sessions"
)

func setupRedisStore(t *testing.T) (*sessions.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return sessions.NewRedisStore(client), server
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := setupRedisStore(t)
	userSession := newTestSession("session-1")
	userSession.SetNote("k", "v")

	require.NoError(t, store.Put(context.Background(), sessions.Online, userSession))

	loaded, version, err := store.Get(context.Background(), sessions.Online, "session-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, "v", loaded.Note("k"))
	require.NotNil(t, loaded.ClientSessionByClient("client-1"))
}

func TestRedisStoreGetReturnsNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, _, err := store.Get(context.Background(), sessions.Online, "missing")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestRedisStoreCompareAndSwap(t *testing.T) {
	store, _ := setupRedisStore(t)
	userSession := newTestSession("session-1")
	require.NoError(t, store.Put(context.Background(), sessions.Online, userSession))

	loaded, version, err := store.Get(context.Background(), sessions.Online, "session-1")
	require.NoError(t, err)

	loaded.ClientSessionByClient("client-1").CurrentRefreshToken = "jti-1"
	swapped, err := store.CompareAndSwap(context.Background(), sessions.Online, version, loaded)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = store.CompareAndSwap(context.Background(), sessions.Online, version, loaded)
	require.NoError(t, err)
	require.False(t, swapped)

	reloaded, version, err := store.Get(context.Background(), sessions.Online, "session-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
	require.Equal(t, "jti-1", reloaded.ClientSessionByClient("client-1").CurrentRefreshToken)
}

func TestRedisStoreCompareAndSwapMissingSession(t *testing.T) {
	store, _ := setupRedisStore(t)

	swapped, err := store.CompareAndSwap(context.Background(), sessions.Online, 1, newTestSession("missing"))
	require.ErrorIs(t, err, sessions.ErrNotFound)
	require.False(t, swapped)
}

func TestRedisStoreKindsAreSeparate(t *testing.T) {
	store, _ := setupRedisStore(t)
	require.NoError(t, store.Put(context.Background(), sessions.Online, newTestSession("session-1")))

	_, _, err := store.Get(context.Background(), sessions.Offline, "session-1")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestRedisStoreRemove(t *testing.T) {
	store, _ := setupRedisStore(t)
	require.NoError(t, store.Put(context.Background(), sessions.Online, newTestSession("session-1")))

	require.NoError(t, store.Remove(context.Background(), sessions.Online, "session-1"))
	_, _, err := store.Get(context.Background(), sessions.Online, "session-1")
	require.ErrorIs(t, err, sessions.ErrNotFound)
	require.NoError(t, store.Remove(context.Background(), sessions.Online, "session-1"))
}
