package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var errSink = errors.New("sink down")

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cfg := DefaultConfig("webhook")
	cfg.OnStateChange = nil
	cfg.now = clock.now
	return New(cfg)
}

func failing(context.Context) error { return errSink }
func succeeding(context.Context) error { return nil }

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errSink)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, failing), errSink)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.NoError(t, cb.Execute(ctx, succeeding))
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateClosed, cb.State())
	c := cb.Counts()
	assert.Equal(t, uint32(6), c.Requests)
	assert.Equal(t, uint32(5), c.TotalFailures)
	assert.Equal(t, uint32(1), c.ConsecutiveFailures)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// failed probe reopens
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, StateOpen, cb.State())

	clock.advance(31 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_CanceledContextIsNotAFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_IntervalClearsCounts(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	clock.advance(61 * time.Second)
	_ = cb.Execute(context.Background(), failing)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Get("webhook")
	assert.Same(t, a, r.Get("webhook"))
	r.Get("pubsub")

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "pubsub", stats[0].Name)
	assert.Equal(t, "webhook", stats[1].Name)
	assert.Equal(t, "CLOSED", stats[1].State)
}
