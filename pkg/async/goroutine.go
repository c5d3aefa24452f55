package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that is shutting down
	ErrPoolClosed = errors.New("worker pool shut down")

	// ErrQueueFull is returned by TrySubmit when the queue has no free slot
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work executed by a WorkerPool
type Task func(context.Context) error

// PoolConfig configures a WorkerPool
type PoolConfig struct {
	Workers   int
	QueueSize int
	TaskName  string
	// Timeout bounds each task. Zero means no per-task timeout.
	Timeout time.Duration
}

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
// Wait blocks until every accepted task has finished, which lets callers
// establish durability points without shutting the pool down.
type WorkerPool struct {
	cfg    PoolConfig
	logger *observability.Logger

	mu      sync.RWMutex
	closed  bool
	workCh  chan Task
	pending inflight

	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewWorkerPool creates a worker pool and starts its workers
func NewWorkerPool(ctx context.Context, cfg PoolConfig, logger *observability.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		cfg:    cfg,
		logger: logger,
		workCh: make(chan Task, cfg.QueueSize),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < cfg.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit enqueues a task, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.add()
	select {
	case p.workCh <- fn:
		return nil
	case <-ctx.Done():
		p.pending.done()
		return ctx.Err()
	case <-p.ctx.Done():
		p.pending.done()
		return ErrPoolClosed
	}
}

// TrySubmit enqueues a task without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.add()
	select {
	case p.workCh <- fn:
		return nil
	default:
		p.pending.done()
		return ErrQueueFull
	}
}

// Wait blocks until all accepted tasks have completed or ctx is done
func (p *WorkerPool) Wait(ctx context.Context) error {
	select {
	case <-p.pending.idle():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s tasks: %w", p.cfg.TaskName, ctx.Err())
	}
}

// Shutdown stops accepting tasks and waits up to timeout for the queue to drain
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("%s pool shutdown timed out after %v", p.cfg.TaskName, timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	defer p.pending.done()

	ctx := p.ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				WithField("worker", id).
				WithField("task", p.cfg.TaskName).
				Error("PANIC recovered in worker")
		}
	}()

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).WithField("task", p.cfg.TaskName).Warn("Task failed")
	}
}

// Batch processes items concurrently and returns every error encountered
//
//	errs := Batch(ctx, logger, letters, 4, "dead letter replay", 0, replayOne)
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	var (
		mu   sync.Mutex
		errs []error
	)

	pool := NewWorkerPool(ctx, PoolConfig{Workers: workers, QueueSize: len(items) + 1, TaskName: taskName, Timeout: timeout}, logger)

	for _, item := range items {
		item := item
		err := pool.Submit(ctx, func(ctx context.Context) error {
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
	}

	if err := pool.Wait(ctx); err != nil {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	_ = pool.Shutdown(time.Second)

	mu.Lock()
	defer mu.Unlock()
	return errs
}

// inflight counts accepted but unfinished tasks. Unlike sync.WaitGroup it
// tolerates new tasks arriving while another goroutine is waiting.
type inflight struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.zero = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.zero)
	}
}

func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return f.zero
}
