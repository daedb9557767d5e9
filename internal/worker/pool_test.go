package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReturnsResult(t *testing.T) {
	p := NewPool("test", 2)
	boom := errors.New("boom")

	ok := p.Submit(context.Background(), func(context.Context) error { return nil })
	bad := p.Submit(context.Background(), func(context.Context) error { return boom })

	require.NoError(t, ok.Wait(context.Background()))
	assert.ErrorIs(t, bad.Wait(context.Background()), boom)
	assert.ErrorIs(t, bad.Err(), boom)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := NewPool("test", 2)
	release := make(chan struct{})
	var running, peak atomic.Int64

	futures := make([]*Future, 5)
	for i := range futures {
		futures[i] = p.Submit(context.Background(), func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}

	require.Eventually(t, func() bool { return p.Active() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.Equal(t, int64(2), peak.Load())
	assert.Equal(t, 0, p.Active())
}

func TestSubmitQueuedWorkAbandonedOnCancel(t *testing.T) {
	p := NewPool("test", 1)
	hold := make(chan struct{})
	blocker := p.Submit(context.Background(), func(context.Context) error {
		<-hold
		return nil
	})
	require.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	queued := p.Submit(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()

	assert.ErrorIs(t, queued.Wait(context.Background()), context.Canceled)
	close(hold)
	require.NoError(t, blocker.Wait(context.Background()))
	p.Wait()
	assert.False(t, ran.Load())
}

func TestRunningWorkIsNotCancelled(t *testing.T) {
	p := NewPool("test", 1)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	proceed := make(chan struct{})

	f := p.Submit(ctx, func(taskCtx context.Context) error {
		close(started)
		<-proceed
		return taskCtx.Err()
	})
	<-started
	cancel()
	close(proceed)
	assert.NoError(t, f.Wait(context.Background()))
}

func TestPanicBecomesError(t *testing.T) {
	p := NewPool("test", 1)
	f := p.Submit(context.Background(), func(context.Context) error { panic("kaboom") })
	err := f.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestFutureWaitHonoursContext(t *testing.T) {
	p := NewPool("test", 1)
	hold := make(chan struct{})
	f := p.Submit(context.Background(), func(context.Context) error {
		<-hold
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
	assert.NoError(t, f.Err())
	close(hold)
	p.Wait()
}

func TestResolved(t *testing.T) {
	boom := errors.New("boom")
	f := Resolved(boom)
	<-f.Done()
	assert.ErrorIs(t, f.Err(), boom)
}
