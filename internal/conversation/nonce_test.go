package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

func TestRedisNonceGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	guard := NewRedisNonceGuard(client, repository.NewMemoryStore(), time.Minute)

	require.NoError(t, guard.Reserve(ctx, "abc"))
	assert.True(t, mr.Exists("groundd:nonce:abc"))

	err := guard.Reserve(ctx, "abc")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.DuplicateRequest))
	assert.ErrorIs(t, err, repository.ErrDuplicateNonce)

	require.NoError(t, guard.Release(ctx, "abc"))
	assert.False(t, mr.Exists("groundd:nonce:abc"))
	require.NoError(t, guard.Reserve(ctx, "abc"))

	// The repository reservation outlives the Redis key.
	mr.FastForward(2 * time.Minute)
	err = guard.Reserve(ctx, "abc")
	assert.True(t, errkind.Is(err, errkind.DuplicateRequest))
}

func TestRedisNonceGuard_UsedAfterExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := repository.NewMemoryStore()
	chat := &repository.Chat{ProjectID: "p1", UserID: "nurse-1"}
	require.NoError(t, store.CreateChat(ctx, chat))
	require.NoError(t, store.InsertMessage(ctx, &repository.ChatMessage{
		ChatID: chat.ID, Role: repository.RoleUser, Message: "fever?", Nonce: "old",
	}))

	err := NewRedisNonceGuard(client, store, time.Minute).Reserve(ctx, "old")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.DuplicateRequest))
	assert.True(t, mr.Exists("groundd:nonce:old"))
}

func TestRedisNonceGuard_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisNonceGuard(client, repository.NewMemoryStore(), 0).Reserve(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Persistence))
}

func TestRepositoryNonceGuard(t *testing.T) {
	ctx := context.Background()
	guard := NewRepositoryNonceGuard(repository.NewMemoryStore())

	require.NoError(t, guard.Reserve(ctx, "n"))
	assert.True(t, errkind.Is(guard.Reserve(ctx, "n"), errkind.DuplicateRequest))
	require.NoError(t, guard.Release(ctx, "n"))
	assert.NoError(t, guard.Reserve(ctx, "n"))
}

func TestOrchestrator_RedisGuard(t *testing.T) {
	f := newFixture(t, defaultProject())
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.orch.nonces = NewRedisNonceGuard(client, f.store, time.Hour)
	ctx := context.Background()

	_, err := f.orch.Converse(ctx, Turn{ChatID: f.chat.ID, Text: "fever?", Nonce: "r-1"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("groundd:nonce:r-1"))

	_, err = f.orch.Converse(ctx, Turn{ChatID: f.chat.ID, Text: "fever?", Nonce: "r-1"})
	assert.True(t, errkind.Is(err, errkind.DuplicateRequest))

	// An expired reservation still cannot reuse a persisted nonce, and the
	// repeat is refused before generation.
	mr.FastForward(2 * time.Hour)
	calls := len(f.provider.requests)
	_, err = f.orch.Converse(ctx, Turn{ChatID: f.chat.ID, Text: "fever?", Nonce: "r-1"})
	assert.True(t, errkind.Is(err, errkind.DuplicateRequest))
	assert.Len(t, f.provider.requests, calls)
	assert.Len(t, f.messages(t), 2)
}
