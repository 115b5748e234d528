// Package blockingpool offloads calls that would otherwise block a tier's
// single-goroutine actor loop (engine I/O, archive creation) onto a small
// fixed worker pool.
package blockingpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/8fs-io/ftsd/pkg/logger"
)

// Task is a unit of blocking work. Implementations should respect ctx
// cancellation where the underlying call allows it.
type Task func(ctx context.Context) error

// Config sizes the pool.
type Config struct {
	Workers  int
	Capacity int // pending task queue depth
}

// DefaultConfig returns a small, conservative pool shape.
func DefaultConfig() *Config {
	return &Config{
		Workers:  4,
		Capacity: 256,
	}
}

// Pool runs submitted Tasks on a fixed set of background goroutines.
type Pool struct {
	config *Config
	logger logger.Logger

	queue  chan queuedTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

type queuedTask struct {
	task Task
	done chan error
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	QueueLen  int
}

// New creates a Pool. The pool does not start processing until Start is called.
func New(config *Config, log logger.Logger) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pool{
		config: config,
		logger: log,
		queue:  make(chan queuedTask, config.Capacity),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.logger.Info("started blocking pool", "workers", p.config.Workers, "capacity", p.config.Capacity)
}

// Stop cancels in-flight work and waits for all workers to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	p.logger.Info("stopped blocking pool")
}

// Submit enqueues task and blocks until it completes or ctx is done.
// Submit returns an error immediately if the queue is full.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	done := make(chan error, 1)

	select {
	case p.queue <- queuedTask{task: task, done: done}:
		p.updateStats(func(s *Stats) { s.Submitted++ })
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("blocking pool queue is full")
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case qt := <-p.queue:
			err := qt.task(p.ctx)
			if err != nil {
				p.updateStats(func(s *Stats) { s.Failed++ })
			} else {
				p.updateStats(func(s *Stats) { s.Completed++ })
			}
			qt.done <- err
		}
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := p.stats
	s.QueueLen = len(p.queue)
	return s
}

func (p *Pool) updateStats(f func(*Stats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	f(&p.stats)
}
