package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoop_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cancel()

	err := runLoop(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	require.NoError(t, err)
	assert.Zero(t, calls, "a canceled context must not run a single step")
}

func TestRunLoop_KeepsCallingStepWithoutSleepWhileItDoesWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0

	err := runLoop(ctx, time.Hour, func(ctx context.Context) (bool, error) {
		calls++
		if calls >= 3 {
			cancel()
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "didWork=true must not incur pollInterval between iterations")
}

func TestRunLoop_PropagatesStepError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := runLoop(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestRunLoop_SleepsBetweenIdleIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0

	start := time.Now()
	err := runLoop(ctx, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		if calls >= 2 {
			cancel()
		}
		return false, nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}
