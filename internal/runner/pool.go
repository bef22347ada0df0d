package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// job is one admitted task waiting for, or held by, a worker.
type job struct {
	id      string
	query   string
	traceID string
}

// PoolStats is a point-in-time view of the pool. Pending counts queued jobs
// only; a job a worker has picked up moves to Active.
type PoolStats struct {
	Workers  int   `json:"workers"`
	Capacity int   `json:"capacity"`
	Active   int32 `json:"active"`
	Pending  int64 `json:"pending"`
}

// pool is a fixed set of workers over a FIFO queue. Admission is bounded by
// a semaphore sized workers+queue depth: a slot is reserved before the task
// record exists and released when the worker is done with the task.
type pool struct {
	workers  int
	capacity int64
	sem      *semaphore.Weighted
	queue    chan job
	handle   func(context.Context, job)
	abandon  func(job)
	logger   *slog.Logger

	mu       sync.RWMutex
	closed   bool
	stopping atomic.Bool

	once    sync.Once
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	active  atomic.Int32
	pending atomic.Int64
}

func newPool(workers, queueDepth int, handle func(context.Context, job), abandon func(job), logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	capacity := int64(workers + queueDepth)
	return &pool{
		workers:  workers,
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
		queue:    make(chan job, capacity),
		handle:   handle,
		abandon:  abandon,
		logger:   logger,
	}
}

func (p *pool) start(ctx context.Context) {
	p.once.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.worker(ctx)
			}()
		}
	})
}

// reserve claims an admission slot without blocking.
func (p *pool) reserve() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.sem.TryAcquire(1)
}

// release returns an admission slot.
func (p *pool) release() {
	p.sem.Release(1)
}

// enqueue hands a reserved job to the workers. The queue has one buffer slot
// per admission slot, so this never blocks. It reports false when the pool
// closed between reserve and enqueue; the slot is released in that case.
func (p *pool) enqueue(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.release()
		return false
	}
	p.pending.Add(1)
	p.queue <- j
	return true
}

// dequeued marks a job as taken off the queue.
func (p *pool) dequeued() {
	p.pending.Add(-1)
}

func (p *pool) worker(ctx context.Context) {
	for j := range p.queue {
		p.dequeued()
		if p.stopping.Load() {
			p.abandon(j)
			p.release()
			continue
		}
		p.active.Add(1)
		p.handle(ctx, j)
		p.active.Add(-1)
		p.release()
	}
}

// drain stops admission, fails every queued task through abandon, and waits
// up to timeout for running tasks. Tasks still running after the timeout are
// cancelled and given the same timeout again to record their failure.
func (p *pool) drain(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopping.Store(true)
	close(p.queue)
	p.mu.Unlock()

	if p.cancel == nil {
		// Never started: nothing will read the queue.
		for j := range p.queue {
			p.dequeued()
			p.abandon(j)
			p.release()
		}
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained cleanly")
		return
	case <-time.After(timeout):
	}

	p.logger.Warn("worker pool drain timeout; cancelling running tasks", "timeout", timeout, "active", p.active.Load())
	p.cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Error("running tasks ignored cancellation", "active", p.active.Load())
	}
}

func (p *pool) stats() PoolStats {
	return PoolStats{
		Workers:  p.workers,
		Capacity: int(p.capacity),
		Active:   p.active.Load(),
		Pending:  p.pending.Load(),
	}
}
