package storage

import (
	"context"
	"sync"
	"time"
)

// periodic runs fn after delay and then every interval until stopped. The
// context passed to fn is cancelled by stop, which waits for a run in
// progress to return.
type periodic struct {
	delay    time.Duration
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *periodic) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel, p.done = cancel, make(chan struct{})
	go p.run(ctx)
}

func (p *periodic) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *periodic) run(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.fn(ctx)
			timer.Reset(p.interval)
		}
	}
}
