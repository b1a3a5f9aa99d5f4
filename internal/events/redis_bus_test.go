package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/circuitbreaker"
)

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisBusFallsBackToLocalDelivery(t *testing.T) {
	rb := newRedisBus(unreachableClient(t), "agentrep:test", 8, nil)
	ch := rb.Subscribe(TypeTaskCompleted)

	rb.Emit(TypeTaskCompleted, "agent", map[string]interface{}{"task_id": "t1"})

	select {
	case ev := <-ch:
		assert.Equal(t, "t1", ev.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered locally")
	}
	assert.Equal(t, uint32(1), rb.breaker.Counts().ConsecutiveFailures)
}

func TestRedisBusSkipsPublishWhileOpen(t *testing.T) {
	rb := newRedisBus(unreachableClient(t), "agentrep:test", 16, nil)
	ch := rb.Subscribe()

	for i := 0; i < 7; i++ {
		rb.Emit(TypeReputationDecayed, "agent", nil)
	}
	assert.Equal(t, circuitbreaker.StateOpen, rb.breaker.State())
	assert.Len(t, ch, 7)
	// Open requests are rejected before reaching Redis and are not counted.
	assert.Zero(t, rb.breaker.Counts().Requests)
}

func TestNewRedisBusFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisBus(ctx, unreachableClient(t), "agentrep:test", 8, nil)
	assert.Error(t, err)
}

func TestRedisBusHealthCheck(t *testing.T) {
	rb := newRedisBus(unreachableClient(t), "agentrep:test", 8, nil)
	assert.Error(t, rb.HealthCheck(context.Background()))
	require.NoError(t, rb.Close())
}

// Requires a Redis server at AGENTREP_TEST_REDIS_ADDR.
func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("AGENTREP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTREP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	a, err := NewRedisBus(ctx, client, "agentrep:roundtrip", 8, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisBus(ctx, client, "agentrep:roundtrip", 8, nil)
	require.NoError(t, err)
	defer b.Close()

	onA, onB := a.Subscribe(), b.Subscribe()
	a.Emit(TypeVouchCreated, "voucher", map[string]interface{}{"amount": 5.0})

	for _, ch := range []chan *CloudEvent{onA, onB} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeVouchCreated, ev.Type)
			assert.Equal(t, "voucher", ev.Subject)
		case <-time.After(2 * time.Second):
			t.Fatal("event not relayed")
		}
	}
	require.NoError(t, a.HealthCheck(ctx))
}
