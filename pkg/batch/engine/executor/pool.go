// Package executor provides the fixed-size worker pool that runs partitions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of work. workerName identifies the pool worker running it.
type Task func(workerName string)

// TaskSubmitter accepts tasks for asynchronous execution.
type TaskSubmitter interface {
	// Submit queues task. It blocks while the backlog is full and returns ctx.Err() if ctx ends first.
	Submit(ctx context.Context, task Task) error
}

// PoolOptions sizes a Pool.
type PoolOptions struct {
	// Workers is the fixed number of workers (core == max).
	Workers int
	// QueueCapacity bounds the backlog of submitted tasks not yet picked up.
	QueueCapacity int
	// NamePrefix is prepended to the 1-based worker number.
	NamePrefix string
}

// Pool is a fixed-size worker pool with a bounded backlog. Submit never drops work.
type Pool struct {
	opts  PoolOptions
	tasks chan Task

	// mu keeps Submit from sending on a closed channel.
	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	active    *atomic.Int32
	completed *atomic.Int64
}

// NewPool starts opts.Workers workers.
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, exception.NewInvalidArgumentError("executor", fmt.Sprintf("pool needs at least one worker, got %d", opts.Workers))
	}
	if opts.QueueCapacity < 0 {
		return nil, exception.NewInvalidArgumentError("executor", fmt.Sprintf("queue capacity must not be negative, got %d", opts.QueueCapacity))
	}
	p := &Pool{
		opts:      opts,
		tasks:     make(chan Task, opts.QueueCapacity),
		active:    atomic.NewInt32(0),
		completed: atomic.NewInt64(0),
	}
	for i := 1; i <= opts.Workers; i++ {
		p.wg.Add(1)
		go p.work(fmt.Sprintf("%s%d", opts.NamePrefix, i))
	}
	logger.Debugf("Worker pool '%s' started with %d workers and a backlog of %d.", opts.NamePrefix, opts.Workers, opts.QueueCapacity)
	return p, nil
}

func (p *Pool) work(name string) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(name, task)
	}
}

func (p *Pool) run(name string, task Task) {
	p.active.Inc()
	defer func() {
		p.active.Dec()
		p.completed.Inc()
		if r := recover(); r != nil {
			logger.Errorf("Worker '%s': task panicked: %v", name, r)
		}
	}()
	task(name)
}

// Submit implements TaskSubmitter.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for the workers or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debugf("Worker pool '%s' shut down. Completed tasks: %d.", p.opts.NamePrefix, p.completed.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers returns the fixed worker count.
func (p *Pool) Workers() int { return p.opts.Workers }

// ActiveCount returns the number of tasks currently running.
func (p *Pool) ActiveCount() int { return int(p.active.Load()) }

// QueueLength returns the number of tasks waiting for a worker.
func (p *Pool) QueueLength() int { return len(p.tasks) }

// CompletedCount returns the number of tasks that have finished, including ones that panicked.
func (p *Pool) CompletedCount() int64 { return p.completed.Load() }

var _ TaskSubmitter = (*Pool)(nil)
