// Package runner drives tasks from submission to a terminal state: it runs
// the search-then-summarize pipeline on a bounded worker pool and records
// every step in the task store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/llm"
	scoutotel "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/resilience"
	"github.com/basket/scout/internal/safety"
	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/shared"
	"github.com/basket/scout/internal/tasks"
)

// Runner executes one task at a time on behalf of a pool worker. It only
// ever writes to the record of the task it was handed.
type Runner struct {
	store      tasks.Store
	searcher   search.Searcher
	summarizer llm.Summarizer
	params     *ParamSource
	bus        *bus.Bus
	tracer     trace.Tracer
	metrics    *scoutotel.Metrics
	logger     *slog.Logger

	searchGuard *resilience.Guard[[]search.Result]
	llmGuard    *resilience.Guard[string]
}

func newRunner(cfg Config) *Runner {
	isPermanent := func(err error) bool {
		return errors.Is(err, search.ErrNoProvider) || llm.IsPermanent(err)
	}
	return &Runner{
		store:      cfg.Store,
		searcher:   cfg.Searcher,
		summarizer: cfg.Summarizer,
		params:     cfg.Params,
		bus:        cfg.Bus,
		tracer:     cfg.Tracer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		searchGuard: &resilience.Guard[[]search.Result]{
			Name:        "search",
			Breaker:     resilience.NewBreaker[[]search.Result]("search", cfg.Breaker, cfg.Logger),
			Policy:      cfg.Retry,
			IsPermanent: isPermanent,
			Logger:      cfg.Logger,
		},
		llmGuard: &resilience.Guard[string]{
			Name:        "llm",
			Breaker:     resilience.NewBreaker[string]("llm", cfg.Breaker, cfg.Logger),
			Policy:      cfg.Retry,
			IsPermanent: isPermanent,
			Logger:      cfg.Logger,
		},
	}
}

// taskRun tracks the log position of the task being run. The runner is the
// only writer of its task's log, so the position is known without a read.
type taskRun struct {
	id     string
	seq    int
	logger *slog.Logger
}

// Run executes the pipeline for one task and always leaves it terminal.
func (r *Runner) Run(ctx context.Context, id, query string) {
	start := time.Now()
	ctx = shared.WithTaskID(ctx, id)
	// Store writes outlive the task deadline so a timeout can still be recorded.
	writeCtx := context.WithoutCancel(ctx)

	ctx, span := scoutotel.StartSpan(ctx, r.tracer, "task.run", scoutotel.AttrTaskID.String(id))
	run := &taskRun{
		id:     id,
		logger: r.logger.With("task_id", id, "trace_id", shared.TraceID(ctx)),
	}

	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
			run.logger.Error("task panicked", "panic", rec)
			r.fail(writeCtx, run, err.Error())
		}
		elapsed := time.Since(start).Seconds()
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		r.metrics.TaskDuration.Record(writeCtx, elapsed, metric.WithAttributes(attribute.String("outcome", outcome)))
		scoutotel.EndSpan(span, err)
	}()

	err = r.execute(ctx, writeCtx, run, query)
}

func (r *Runner) execute(ctx, writeCtx context.Context, run *taskRun, query string) error {
	p := r.params.Load()
	run.logger.Info("task started", "max_results", p.MaxResults, "depth", p.Depth)

	// CREATED -> SEARCHING
	r.appendLog(writeCtx, run, "search started")
	results, err := r.search(ctx, run, query, p)
	if err != nil {
		msg := "search failed: " + err.Error()
		r.fail(writeCtx, run, msg)
		return err
	}
	r.appendLog(writeCtx, run, retrievedMessage(len(results)))
	flagSuspicious(run, results)

	// SEARCHING -> SUMMARIZING
	user := UserMessage(query, FormatResults(results))
	r.appendLog(writeCtx, run, "summarization started")
	answer, err := r.summarize(ctx, run, user, p)
	if err != nil {
		msg := "summarization failed: " + err.Error()
		r.fail(writeCtx, run, msg)
		return err
	}
	r.appendLog(writeCtx, run, "summary generated")

	// SUMMARIZING -> COMPLETED. The result is stored before the completed
	// event is appended so a reader never sees completed without a result.
	res := tasks.Result{Answer: answer, Sources: Sources(results)}
	if err := r.store.SetResult(writeCtx, run.id, res); err != nil {
		run.logger.Error("store result failed", "error", err)
		r.fail(writeCtx, run, "store result failed: "+err.Error())
		return err
	}
	r.append(writeCtx, run, tasks.Event{Type: tasks.EventCompleted, Message: "task completed"})
	r.metrics.TasksCompleted.Add(writeCtx, 1)
	run.logger.Info("task completed", "sources", len(res.Sources))
	return nil
}

func (r *Runner) search(ctx context.Context, run *taskRun, query string, p Params) ([]search.Result, error) {
	ctx, cancel := withTimeout(ctx, p.SearchTimeout)
	defer cancel()
	ctx, span := scoutotel.StartClientSpan(ctx, r.tracer, "search", scoutotel.AttrCollaborator.String("search"))
	start := time.Now()

	results, err := r.searchGuard.Do(ctx, func(ctx context.Context) ([]search.Result, error) {
		return r.searcher.Search(ctx, query, search.Options{MaxResults: p.MaxResults, Depth: p.Depth})
	})

	r.metrics.CollaboratorDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("collaborator", "search")))
	span.SetAttributes(scoutotel.AttrSearchResults.Int(len(results)))
	scoutotel.EndSpan(span, err)
	if err != nil {
		run.logger.Warn("search failed", "error", err, "class", llm.ClassifyError(err))
		return nil, err
	}
	return results, nil
}

func (r *Runner) summarize(ctx context.Context, run *taskRun, user string, p Params) (string, error) {
	ctx, cancel := withTimeout(ctx, p.LLMTimeout)
	defer cancel()
	ctx, span := scoutotel.StartClientSpan(ctx, r.tracer, "llm.complete", scoutotel.AttrCollaborator.String("llm"))
	start := time.Now()

	answer, err := r.llmGuard.Do(ctx, func(ctx context.Context) (string, error) {
		return r.summarizer.Complete(ctx, SystemPrompt, user, llm.Options{
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
	})

	r.metrics.CollaboratorDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("collaborator", "llm")))
	scoutotel.EndSpan(span, err)
	if err != nil {
		run.logger.Warn("summarization failed", "error", err, "class", llm.ClassifyError(err))
		return "", err
	}
	return answer, nil
}

// fail records msg as the task's failure outcome and then appends the failed
// event. Provider SDKs sometimes echo request headers in errors, so msg is
// redacted first. A task that is already terminal is left alone.
func (r *Runner) fail(ctx context.Context, run *taskRun, msg string) {
	msg = shared.Redact(msg)
	if err := r.store.SetFailure(ctx, run.id, msg); err != nil {
		run.logger.Error("store failure failed", "error", err)
		return
	}
	r.append(ctx, run, tasks.Event{Type: tasks.EventFailed, Message: msg})
	r.metrics.TasksFailed.Add(ctx, 1)
	run.logger.Warn("task failed", "reason", msg)
}

func (r *Runner) appendLog(ctx context.Context, run *taskRun, msg string) {
	r.append(ctx, run, tasks.Event{Type: tasks.EventLog, Message: msg})
}

func (r *Runner) append(ctx context.Context, run *taskRun, ev tasks.Event) {
	if err := r.store.AppendEvent(ctx, run.id, ev); err != nil {
		run.logger.Error("append event failed", "error", err, "event", ev.Message)
		return
	}
	seq := run.seq
	run.seq++
	run.logger.Debug("task event", "seq", seq, "type", ev.Type, "message", ev.Message)
	publishEvent(r.bus, run.id, seq, ev)
}

// publishEvent mirrors a log entry onto the bus for live watchers.
func publishEvent(b *bus.Bus, id string, seq int, ev tasks.Event) {
	if b == nil {
		return
	}
	payload := bus.TaskEvent{TaskID: id, Seq: seq, Type: string(ev.Type), Message: ev.Message}
	b.Publish(bus.TopicTaskEvent, payload)
	switch ev.Type {
	case tasks.EventCompleted:
		b.Publish(bus.TopicTaskCompleted, payload)
	case tasks.EventFailed:
		b.Publish(bus.TopicTaskFailed, payload)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// flagSuspicious logs search hits that look like prompt injection or carry
// credentials. The prompt is sent unchanged.
func flagSuspicious(run *taskRun, results []search.Result) {
	for _, res := range results {
		findings := safety.Scan(res.Title + "\n" + res.Content)
		if len(findings) == 0 {
			continue
		}
		run.logger.Warn("suspicious search result", "url", res.URL, "findings", safety.Reasons(findings))
	}
}
