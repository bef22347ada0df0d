package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/llm"
	scoutotel "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/resilience"
	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/shared"
	"github.com/basket/scout/internal/tasks"
)

var (
	// ErrEmptyQuery rejects a submission whose query is the empty string.
	ErrEmptyQuery = errors.New("query must be a non-empty string")
	// ErrQueueFull rejects a submission when every worker is busy and the
	// queue is at its configured depth.
	ErrQueueFull = errors.New("task queue is full")
)

// Shutdown message recorded for tasks that were queued but never started.
const msgShutdownBeforeStart = "shutdown before start"

type Config struct {
	Store      tasks.Store
	Searcher   search.Searcher
	Summarizer llm.Summarizer
	Params     *ParamSource
	Bus        *bus.Bus
	Tracer     trace.Tracer
	Metrics    *scoutotel.Metrics
	Logger     *slog.Logger

	WorkerCount   int
	MaxQueueDepth int
	TaskTimeout   time.Duration
	Retry         resilience.RetryPolicy
	Breaker       resilience.BreakerConfig
}

// Service is the submission and inspection surface over the task store and
// the worker pool.
type Service struct {
	store   tasks.Store
	runner  *Runner
	pool    *pool
	bus     *bus.Bus
	metrics *scoutotel.Metrics
	logger  *slog.Logger
	timeout time.Duration
}

// New wires a Service. Call Start before submitting and Drain on shutdown.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(scoutotel.TracerName)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = scoutotel.NoopMetrics()
	}
	if cfg.Params == nil {
		cfg.Params = NewParamSource(DefaultParams())
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}

	s := &Service{
		store:   cfg.Store,
		runner:  newRunner(cfg),
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		timeout: cfg.TaskTimeout,
	}
	s.pool = newPool(cfg.WorkerCount, cfg.MaxQueueDepth, s.handle, s.abandon, cfg.Logger)
	if err := cfg.Metrics.ObserveQueueDepth(func() int64 { return s.pool.pending.Load() }); err != nil {
		cfg.Logger.Warn("queue depth gauge unavailable", "error", err)
	}
	return s
}

// Start launches the workers. Tasks run under ctx until Drain.
func (s *Service) Start(ctx context.Context) {
	s.pool.start(ctx)
}

// Submit validates query, allocates a task id, creates its empty record and
// queues it. It returns as soon as the task is queued.
func (s *Service) Submit(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", ErrEmptyQuery
	}
	if !s.pool.reserve() {
		s.metrics.TasksRejected.Add(ctx, 1)
		s.logger.WarnContext(ctx, "task rejected: queue full", "trace_id", shared.TraceID(ctx))
		return "", ErrQueueFull
	}

	id := uuid.NewString()
	if err := s.store.Create(ctx, id); err != nil {
		s.pool.release()
		return "", fmt.Errorf("create task: %w", err)
	}
	if !s.pool.enqueue(job{id: id, query: query, traceID: shared.TraceID(ctx)}) {
		s.abandon(job{id: id})
		return "", ErrQueueFull
	}

	s.metrics.TasksSubmitted.Add(ctx, 1)
	if s.bus != nil {
		s.bus.Publish(bus.TopicTaskSubmitted, bus.TaskEvent{TaskID: id, Seq: -1, Type: "submitted", Message: query})
	}
	s.logger.InfoContext(ctx, "task submitted", "task_id", id, "trace_id", shared.TraceID(ctx))
	return id, nil
}

func (s *Service) handle(ctx context.Context, j job) {
	if j.traceID != "" && j.traceID != "-" {
		ctx = shared.WithTraceID(ctx, j.traceID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.runner.Run(ctx, j.id, j.query)
}

// abandon fails a queued task that will never run.
func (s *Service) abandon(j job) {
	ctx := context.Background()
	run := &taskRun{id: j.id, logger: s.logger.With("task_id", j.id, "trace_id", j.traceID)}
	s.runner.fail(ctx, run, msgShutdownBeforeStart)
}

// Events returns a snapshot of the task's log; empty for an unknown id.
func (s *Service) Events(ctx context.Context, id string) ([]tasks.Event, error) {
	return s.store.Events(ctx, id)
}

// Result returns the task's outcome. An unknown id reports running, exactly
// like a task still in progress.
func (s *Service) Result(ctx context.Context, id string) (tasks.Outcome, error) {
	return s.store.Outcome(ctx, id)
}

// TaskStatus is the three-way status of the agent protocol, widened with
// failed.
type TaskStatus string

const (
	StatusCompleted TaskStatus = "completed"
	StatusRunning   TaskStatus = "running"
	StatusFailed    TaskStatus = "failed"
	StatusUnknown   TaskStatus = "unknown"
)

// Status is Result plus a record-existence check, so ids that were never
// submitted report unknown instead of running.
func (s *Service) Status(ctx context.Context, id string) (TaskStatus, tasks.Outcome, error) {
	out, err := s.store.Outcome(ctx, id)
	if err != nil {
		return "", tasks.Outcome{}, err
	}
	switch out.State {
	case tasks.StateCompleted:
		return StatusCompleted, out, nil
	case tasks.StateFailed:
		return StatusFailed, out, nil
	}
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		return "", tasks.Outcome{}, err
	}
	if !ok {
		return StatusUnknown, out, nil
	}
	return StatusRunning, out, nil
}

// Watch subscribes to a task's log and returns the entries already present.
// Live entries whose Seq is below len(snapshot) duplicate the snapshot and
// should be skipped. The caller must Unwatch the subscription.
func (s *Service) Watch(ctx context.Context, id string) ([]tasks.Event, *bus.Subscription, error) {
	if s.bus == nil {
		return nil, nil, errors.New("event bus not configured")
	}
	sub := s.bus.SubscribeTask(id)
	snapshot, err := s.store.Events(ctx, id)
	if err != nil {
		s.bus.Unsubscribe(sub)
		return nil, nil, err
	}
	return snapshot, sub, nil
}

// Unwatch releases a subscription returned by Watch.
func (s *Service) Unwatch(sub *bus.Subscription) {
	if s.bus != nil {
		s.bus.Unsubscribe(sub)
	}
}

// Drain stops admission and waits for running tasks; queued tasks fail.
func (s *Service) Drain(timeout time.Duration) {
	s.pool.drain(timeout)
}

// Stats reports pool occupancy.
func (s *Service) Stats() PoolStats {
	return s.pool.stats()
}

// Counts reports store totals.
func (s *Service) Counts(ctx context.Context) (tasks.Counts, error) {
	return s.store.Counts(ctx)
}
