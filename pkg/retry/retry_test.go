package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps the tests quick.
var fastPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	Multiplier:  2.0,
	MaxDelay:    5 * time.Millisecond,
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("still broken")
	err := Do(context.Background(), fastPolicy, func() error {
		calls++
		return lastErr
	})
	require.Error(t, err)
	assert.Equal(t, fastPolicy.MaxAttempts, calls)
	assert.Equal(t, lastErr, err)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	cause := errors.New("bad request")
	err := Do(context.Background(), fastPolicy, func() error {
		calls++
		return Permanent(cause)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	// The wrapper is stripped so callers see the original error.
	assert.Equal(t, cause, err)
}

func TestDoWrappedPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, func() error {
		calls++
		return Permanent(errors.New("rejected"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{MaxAttempts: 5, BaseDelay: time.Minute, Multiplier: 2.0, MaxDelay: time.Minute}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, slow, func() error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestDelayGrowthAndCap(t *testing.T) {
	p := Policy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 400*time.Millisecond, p.delay(3))
	assert.Equal(t, 800*time.Millisecond, p.delay(4))
	assert.Equal(t, time.Second, p.delay(5))
	assert.Equal(t, time.Second, p.delay(9))
}

func TestNormalizedFillsDefaults(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, DefaultPolicy.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultPolicy.BaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultPolicy.Multiplier, p.Multiplier)
	assert.Equal(t, DefaultPolicy.MaxDelay, p.MaxDelay)
}
