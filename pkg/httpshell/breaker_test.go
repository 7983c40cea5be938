package httpshell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", 5, 2, 30*time.Second)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.OnFailure()
		assert.Equal(t, StateClosed, b.State(), "still closed after %d failures", i+1)
	}

	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, StateOpen, b.State())

	// Fast-fail while open.
	err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, uint64(1), b.Stats().Rejected)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker("test", 3, 2, time.Second)

	require.NoError(t, b.Allow())
	b.OnFailure()
	require.NoError(t, b.Allow())
	b.OnFailure()
	require.NoError(t, b.Allow())
	b.OnSuccess()

	// Two more failures do not trip a threshold of three.
	require.NoError(t, b.Allow())
	b.OnFailure()
	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeAndRecovery(t *testing.T) {
	b := NewBreaker("test", 2, 2, 20*time.Millisecond)

	require.NoError(t, b.Allow())
	b.OnFailure()
	require.NoError(t, b.Allow())
	b.OnFailure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	time.Sleep(25 * time.Millisecond)

	// One probe only while the first is in flight.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.OnSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.OnSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 2, 10*time.Millisecond)

	require.NoError(t, b.Allow())
	b.OnFailure()
	time.Sleep(15 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.OnFailure()

	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("test", 0, 0, time.Second)
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 2, b.successThreshold)
}
