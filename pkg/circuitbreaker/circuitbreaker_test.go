package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(mutate func(*Config)) (*Breaker, *fakeClock, *[]string) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string

	cfg := DefaultConfig("redis")
	cfg.FailureThreshold = 3
	cfg.OpenTimeout = time.Second
	cfg.Now = clock.Now
	cfg.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), clock, &transitions
}

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _, transitions := newTestBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	}
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State(), "a success resets the streak")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen)

	counts := b.Counts()
	assert.Equal(t, int64(6), counts.Requests)
	assert.Equal(t, int64(5), counts.Failures)
	assert.Equal(t, int64(1), counts.Rejected)
	assert.Equal(t, []string{"closed->open"}, *transitions)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock, transitions := newTestBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(time.Second)

	done, err := b.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "only one probe at a time")

	done(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, *transitions)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock, _ := newTestBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(time.Second)

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "reopening restarts the timeout")
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	notFound := errors.New("not found")
	b, _, _ := newTestBreaker(func(c *Config) {
		c.IsFailure = func(err error) bool { return !errors.Is(err, notFound) }
	})

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return notFound })
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().Failures)
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b, _, _ := newTestBreaker(func(c *Config) { c.FailureThreshold = 2 })

	done, err := b.Allow()
	require.NoError(t, err)
	done(errDown)
	done(errDown)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Counts().ConsecutiveFailures)
}

func TestBreaker_Reset(t *testing.T) {
	b, _, _ := newTestBreaker(nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
	assert.Equal(t, "redis", b.Name())
}
