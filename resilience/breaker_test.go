package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker("redis", 5, 30*time.Second, WithClock(clock))

	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return errBoom })
		assert.Equal(t, BreakerClosed, b.State(), "should stay CLOSED before threshold")
	}

	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, BreakerOpen, b.State(), "5th consecutive failure should OPEN")

	err := b.Execute(func() error { return nil })
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.EqualError(t, err, "Circuit breaker is OPEN")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker("redis", 3, time.Minute)

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	require.NoError(t, b.Execute(func() error { return nil }))

	// Two more failures should not open: the counter was reset.
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerRecovery(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	monitor := NewHealthMonitor(1)
	b := NewCircuitBreaker("redis", 2, 30*time.Second, WithClock(clock), WithMonitor(monitor))

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, monitor.IsAvailable("redis"))

	// Before the timeout the breaker still rejects.
	advance(10 * time.Second)
	require.ErrorIs(t, b.Execute(func() error { return nil }), ErrBreakerOpen)

	// After the timeout one trial is allowed; success closes the breaker
	// and the monitor records the recovery.
	advance(30 * time.Second)
	require.Equal(t, BreakerHalfOpen, b.State())
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, monitor.IsAvailable("redis"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker("redis", 1, 10*time.Second, WithClock(clock))

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, BreakerOpen, b.State())

	advance(10 * time.Second)
	require.Equal(t, BreakerHalfOpen, b.State())
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker("redis", 1, time.Second, WithClock(clock))

	_ = b.Execute(func() error { return errBoom })
	advance(time.Second)
	require.Equal(t, BreakerHalfOpen, b.State())

	// First caller takes the trial slot; a second concurrent caller is
	// rejected until the trial resolves.
	require.NoError(t, b.allow())
	assert.ErrorIs(t, b.allow(), ErrBreakerOpen)
}

func TestBreakerReset(t *testing.T) {
	b := NewCircuitBreaker("redis", 1, time.Hour)
	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreakerTransitionHook(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker("redis", 1, time.Hour, WithTransitionHook(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	_ = b.Execute(func() error { return errBoom })
	b.Reset()
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->CLOSED"}, transitions)
}
