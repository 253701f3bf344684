package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Timeout:     timeout,
		MaxRequests: 1,
	}, logger)
}

func TestStaysClosedOnSuccess(t *testing.T) {
	cb := newTestBreaker(3, time.Second)

	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	boom := errors.New("gateway unreachable")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without invoking fn while open.
	invoked := false
	err := cb.Execute(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	boom := errors.New("boom")

	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
}
