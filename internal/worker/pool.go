package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Dispatcher hands queued jobs to workers without waiting for them.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
	Shutdown(ctx context.Context) error
}

// Processor runs a single job to completion.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Pool is the in-process dispatcher. Every dispatched job gets its own
// goroutine which waits for one of a fixed number of render slots, so
// intake never blocks while at most cap(slots) renders run at once.
type Pool struct {
	proc  Processor
	slots chan struct{}
	log   logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most concurrency jobs at a time.
func NewPool(proc Processor, concurrency int, log logrus.FieldLogger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		proc:  proc,
		slots: make(chan struct{}, concurrency),
		log:   log.WithField("component", "pool"),
	}
}

// Dispatch schedules jobID and returns immediately.
func (p *Pool) Dispatch(ctx context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrDispatcherClosed
	}

	p.wg.Add(1)
	go p.run(jobID)
	return nil
}

func (p *Pool) run(jobID string) {
	defer p.wg.Done()

	p.slots <- struct{}{}
	defer func() { <-p.slots }()

	log := p.log.WithField("job_id", jobID)
	log.WithField("active", len(p.slots)).Debug("acquired render slot")

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("render worker panicked")
		}
	}()

	// Renders are never cancelled, so they do not inherit the request context.
	if err := p.proc.Process(context.Background(), jobID); err != nil {
		log.WithError(err).Error("render job aborted")
	}
}

// Active reports how many renders currently hold a slot.
func (p *Pool) Active() int {
	return len(p.slots)
}

// Capacity is the configured concurrency.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// Shutdown stops intake and waits for dispatched jobs until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for renders: %w", ctx.Err())
	}
}
