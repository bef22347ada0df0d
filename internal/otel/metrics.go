package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds all scout metrics instruments.
type Metrics struct {
	RequestDuration      metric.Float64Histogram
	TasksSubmitted       metric.Int64Counter
	TasksRejected        metric.Int64Counter
	TasksCompleted       metric.Int64Counter
	TasksFailed          metric.Int64Counter
	TaskDuration         metric.Float64Histogram
	CollaboratorDuration metric.Float64Histogram
	RateLimitRejects     metric.Int64Counter

	meter metric.Meter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("scout.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksSubmitted, err = meter.Int64Counter("scout.tasks.submitted",
		metric.WithDescription("Tasks accepted for execution"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("scout.tasks.rejected",
		metric.WithDescription("Submissions rejected because the queue was full"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("scout.tasks.completed",
		metric.WithDescription("Tasks that reached the completed state"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("scout.tasks.failed",
		metric.WithDescription("Tasks that reached the failed state"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("scout.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CollaboratorDuration, err = meter.Float64Histogram("scout.collaborator.duration",
		metric.WithDescription("Search and LLM call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("scout.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// ObserveQueueDepth registers the scout.queue.depth gauge, reading depth on
// every collection.
func (m *Metrics) ObserveQueueDepth(depth func() int64) error {
	_, err := m.meter.Int64ObservableGauge("scout.queue.depth",
		metric.WithDescription("Tasks admitted but not yet finished"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depth())
			return nil
		}),
	)
	return err
}
