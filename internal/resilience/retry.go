package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/basket/scout/internal/shared"
)

// RetryPolicy bounds a retry loop. MaxAttempts counts every try, so 1 means
// no retry at all.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Retry runs op until it succeeds, returns an error for which isPermanent is
// true, exhausts p.MaxAttempts, or ctx ends. Retries are logged under name.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, logger *slog.Logger, isPermanent func(error) bool, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || (isPermanent != nil && isPermanent(err)) || IsOpen(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.WarnContext(ctx, "collaborator call failed, retrying",
				"collaborator", name,
				"task_id", shared.TaskID(ctx),
				"trace_id", shared.TraceID(ctx),
				"attempt", attempt,
				"max_attempts", attempts,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)
}

// Guard combines a breaker and a retry policy for one collaborator. Each
// retry attempt goes through the breaker, and an open breaker ends the loop.
type Guard[T any] struct {
	Name        string
	Breaker     *Breaker[T]
	Policy      RetryPolicy
	IsPermanent func(error) bool
	Logger      *slog.Logger
}

// Do runs op under the guard.
func (g *Guard[T]) Do(ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	return Retry(ctx, g.Policy, g.Name, g.Logger, g.IsPermanent, func(ctx context.Context) (T, error) {
		return g.Breaker.Execute(func() (T, error) { return op(ctx) })
	})
}
