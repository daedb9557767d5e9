// Package worker provides the bounded pools that run storage work and
// photo conversions off the SMTP and scheduler goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Future is the pending result of a submitted function.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns an already settled future.
func Resolved(err error) *Future {
	f := newFuture()
	f.resolve(err)
	return f
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future settles or ctx ends. Returning early does not
// cancel the submitted work.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Pool struct {
	name   string
	size   int64
	sem    *semaphore.Weighted
	active atomic.Int64
	wg     sync.WaitGroup
}

func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int { return int(p.size) }

// Active reports how many functions currently hold a slot.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Submit queues fn and returns immediately. If ctx ends before a slot frees
// up, fn never runs and the future carries ctx's error. Once started, fn runs
// to completion: its context is detached from ctx's cancellation.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) *Future {
	f := newFuture()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.resolve(fmt.Errorf("worker.%s: %w", p.name, err))
			return
		}
		p.active.Add(1)
		err := p.run(context.WithoutCancel(ctx), fn)
		p.active.Add(-1)
		p.sem.Release(1)
		f.resolve(err)
	}()
	return f
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker.%s: panic: %v", p.name, r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted function has settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
