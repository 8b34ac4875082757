package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool runs submitted work in the background with at most size runs at once.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	active atomic.Int32

	mu      sync.Mutex
	running map[string]struct{}
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:     make(chan struct{}, size),
		running: make(map[string]struct{}),
	}
}

// Submit schedules fn for key and reports false if work for key is already
// queued or running. fn always runs, even when ctx ends while it waits for a
// slot; it then receives the cancelled ctx and is expected to clean up.
func (p *Pool) Submit(ctx context.Context, key string, fn func(context.Context)) bool {
	p.mu.Lock()
	if _, dup := p.running[key]; dup {
		p.mu.Unlock()
		return false
	}
	p.running[key] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(key)

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
		}

		p.active.Add(1)
		defer p.active.Add(-1)
		fn(ctx)
	}()
	return true
}

func (p *Pool) release(key string) {
	p.mu.Lock()
	delete(p.running, key)
	p.mu.Unlock()
}

// Active is the number of runs currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Wait blocks until every submitted run has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
