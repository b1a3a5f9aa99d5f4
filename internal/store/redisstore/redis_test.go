package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/store/storetest"
)

// redisAddr returns the test server address or skips the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("AGENTREP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTREP_TEST_REDIS_ADDR not set")
	}
	return addr
}

// openIsolated gives every caller its own key prefix and removes the keys
// it wrote on cleanup.
func openIsolated(t *testing.T, addr string) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{Addr: addr, KeyPrefix: "agentrep-test:" + uuid.NewString() + ":"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			s.rdb.Del(ctx, iter.Val())
		}
		s.Close()
	})
	return s
}

func TestRedisStore(t *testing.T) {
	addr := redisAddr(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return openIsolated(t, addr)
	})
}

func TestRedisPrefixesAreIsolated(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()
	a, b := openIsolated(t, addr), openIsolated(t, addr)
	key := address.Address{0x07}

	require.NoError(t, a.Update(ctx, func(tx store.Txn) error {
		return tx.Create(ctx, key, store.Record{Kind: store.KindAgent, Data: []byte("a")})
	}))
	err := b.View(ctx, func(tx store.Txn) error {
		_, err := tx.Get(ctx, key)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), Config{Addr: "127.0.0.1:1"}, nil)
	assert.ErrorContains(t, err, "redisstore: ping")
}

func TestNewDefaultsPrefix(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", nil)
	defer s.Close()
	assert.Equal(t, "agentrep:kind:2", s.kindKey(store.KindAgent))
}
