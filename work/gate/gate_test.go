package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSerializesCalls(t *testing.T) {
	g := New(true)

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(context.Background(), g, func(context.Context) (int, error) {
				cur := inFlight.Add(1)
				for {
					max := maxInFlight.Load()
					if cur <= max || maxInFlight.CompareAndSwap(max, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return 0, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "gate must admit one call at a time")
	assert.Equal(t, int64(8), g.TotalRequests())
	assert.Equal(t, int64(0), g.QueuedRequests())
	assert.False(t, g.IsBusy())
}

func TestExecuteEnforcesMinimumInterval(t *testing.T) {
	g := New(true)

	var mu sync.Mutex
	var dispatches []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(context.Background(), g, func(context.Context) (struct{}, error) {
				mu.Lock()
				dispatches = append(dispatches, time.Now())
				mu.Unlock()
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatches, 4)
	for i := 1; i < len(dispatches); i++ {
		for j := 0; j < i; j++ {
			gap := dispatches[i].Sub(dispatches[j])
			if gap < 0 {
				gap = -gap
			}
			// small tolerance for timer resolution
			assert.GreaterOrEqual(t, gap, 90*time.Millisecond,
				"dispatches %d and %d too close together", j, i)
		}
	}
}

func TestExecutePropagatesCallError(t *testing.T) {
	g := New(true)

	wantErr := errors.New("provider unreachable")
	_, err := Execute(context.Background(), g, func(context.Context) (string, error) {
		return "", wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.False(t, g.IsBusy(), "slot must be released after a failed call")

	// gate still admits subsequent calls
	v, err := Execute(context.Background(), g, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestExecuteCancellationWhileQueued(t *testing.T) {
	g := New(true)

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = Execute(context.Background(), g, func(context.Context) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, g, func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
		errCh <- err
	}()

	// wait until the second caller is queued
	require.Eventually(t, func() bool { return g.QueuedRequests() == 1 },
		time.Second, 5*time.Millisecond)

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), g.QueuedRequests(), "cancelled waiter must decrement the queue")

	close(release)

	// only the first call was dispatched
	require.Eventually(t, func() bool { return !g.IsBusy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), g.TotalRequests())
}

func TestExecutePassthroughWhenDisabled(t *testing.T) {
	g := New(false)

	var inFlight atomic.Int32
	var sawParallel atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(context.Background(), g, func(context.Context) (struct{}, error) {
				if inFlight.Add(1) > 1 {
					sawParallel.Store(true)
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	assert.True(t, sawParallel.Load(), "disabled gate must not serialize calls")
	assert.Equal(t, int64(0), g.TotalRequests(), "disabled gate keeps no stats")
}

func TestResetStatistics(t *testing.T) {
	g := New(true)
	_, _ = Execute(context.Background(), g, func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.Equal(t, int64(1), g.TotalRequests())

	g.ResetStatistics()
	assert.Equal(t, int64(0), g.TotalRequests())
}
