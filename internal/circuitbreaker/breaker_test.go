package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("broker down")

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cfg := DefaultConfig("test")
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 3 }
	cfg.Timeout = 10 * time.Second
	cb := New(cfg, nil)
	cb.now = func() time.Time { return *now }
	return cb
}

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Do(ctx, fail), errDown)
	}
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Do(ctx, ok))
	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)

	for i := 0; i < 3; i++ {
		cb.Do(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestHalfOpenTrial(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cb.Do(ctx, fail)
	}

	now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// A failed trial reopens.
	cb.Do(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Do(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestOnStateChange(t *testing.T) {
	var transitions []string
	cfg := DefaultConfig("sink")
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}
	cb := New(cfg, nil)
	cb.Do(context.Background(), fail)
	assert.Equal(t, []string{"sink:closed->open"}, transitions)
}

func TestAllowTwoStep(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		done, err := cb.Allow()
		require.NoError(t, err)
		done(false)
	}
	_, err := cb.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	done, err := cb.Allow()
	require.NoError(t, err)
	_, err = cb.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)
	done(true)
	assert.Equal(t, StateClosed, cb.State())
}
