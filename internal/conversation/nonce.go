package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// DefaultNonceTTL bounds how long a Redis reservation outlives its turn.
const DefaultNonceTTL = 24 * time.Hour

// NonceGuard reserves idempotency keys before a turn starts. Reserve is an
// atomic check-and-claim; a nonce that is reserved or used returns a
// DuplicateRequest error.
type NonceGuard interface {
	Reserve(ctx context.Context, nonce string) error
	// Release drops the reservation of a turn that was not persisted.
	Release(ctx context.Context, nonce string) error
}

// RepositoryNonceGuard reserves nonces in the persistence store, which also
// rejects nonces already attached to a message.
type RepositoryNonceGuard struct {
	store repository.ChatStore
}

// NewRepositoryNonceGuard returns a guard backed by store.
func NewRepositoryNonceGuard(store repository.ChatStore) *RepositoryNonceGuard {
	return &RepositoryNonceGuard{store: store}
}

func (g *RepositoryNonceGuard) Reserve(ctx context.Context, nonce string) error {
	return g.store.ReserveNonce(ctx, nonce)
}

func (g *RepositoryNonceGuard) Release(ctx context.Context, nonce string) error {
	return g.store.ReleaseNonce(ctx, nonce)
}

// RedisNonceGuard reserves nonces with SET NX so concurrent API replicas
// share one reservation space. A claimed key is then reserved in the
// repository as well, which rejects nonces already attached to a message
// after the Redis key has expired.
type RedisNonceGuard struct {
	client redis.UniversalClient
	store  repository.ChatStore
	prefix string
	ttl    time.Duration
}

// NewRedisNonceGuard returns a guard using client and store. ttl <= 0
// selects DefaultNonceTTL.
func NewRedisNonceGuard(client redis.UniversalClient, store repository.ChatStore, ttl time.Duration) *RedisNonceGuard {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &RedisNonceGuard{client: client, store: store, prefix: "groundd:nonce:", ttl: ttl}
}

func (g *RedisNonceGuard) Reserve(ctx context.Context, nonce string) error {
	const op = "conversation.RedisNonceGuard.Reserve"
	key := g.prefix + nonce
	ok, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return errkind.E(errkind.Persistence, op, fmt.Errorf("reserving nonce: %w", err))
	}
	if !ok {
		return errkind.E(errkind.DuplicateRequest, op, fmt.Errorf("%q: %w", nonce, repository.ErrDuplicateNonce))
	}
	if err := g.store.ReserveNonce(ctx, nonce); err != nil {
		// A used nonce keeps its key so repeats stop at Redis.
		if !errkind.Is(err, errkind.DuplicateRequest) {
			_ = g.client.Del(ctx, key).Err()
		}
		return err
	}
	return nil
}

func (g *RedisNonceGuard) Release(ctx context.Context, nonce string) error {
	const op = "conversation.RedisNonceGuard.Release"
	if err := g.client.Del(ctx, g.prefix+nonce).Err(); err != nil {
		return errkind.E(errkind.Persistence, op, err)
	}
	return g.store.ReleaseNonce(ctx, nonce)
}
