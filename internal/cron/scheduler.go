// Package cron runs the periodic stats reporter on a cron schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/runner"
	"github.com/basket/scout/internal/tasks"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 1m" or "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// StatsSource is what the reporter reads on each run.
type StatsSource interface {
	Stats() runner.PoolStats
	Counts(ctx context.Context) (tasks.Counts, error)
}

// Activity counts lifecycle transitions seen on the bus since the previous
// report.
type Activity struct {
	Submitted int
	Completed int
	Failed    int
}

// Snapshot is one stats report.
type Snapshot struct {
	At     time.Time
	Pool   runner.PoolStats
	Tasks  tasks.Counts
	Window Activity
}

// Config holds the dependencies for the stats scheduler.
type Config struct {
	Source   StatsSource
	Logger   *slog.Logger
	Schedule string // cron spec; defaults to "@every 1m"
	// Bus, if set, feeds Snapshot.Window from the task lifecycle topics.
	Bus *bus.Bus
	// OnReport, if set, receives every snapshot after it is logged.
	OnReport func(Snapshot)
}

// Scheduler logs a stats snapshot each time its schedule comes due.
type Scheduler struct {
	source   StatsSource
	logger   *slog.Logger
	schedule cronlib.Schedule
	spec     string
	onReport func(Snapshot)
	bus      *bus.Bus
	sub      *bus.Subscription

	mu     sync.Mutex
	window Activity

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the schedule and returns a stopped Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = "@every 1m"
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse stats schedule %q: %w", spec, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:   cfg.Source,
		logger:   logger,
		schedule: sched,
		spec:     spec,
		onReport: cfg.OnReport,
		bus:      cfg.Bus,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.bus != nil {
		s.sub = s.bus.Subscribe(bus.TopicTaskLifecycle)
		s.wg.Add(1)
		go s.tally(s.sub)
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("stats scheduler started", "schedule", s.spec)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sub != nil {
		s.bus.Unsubscribe(s.sub)
	}
	s.wg.Wait()
	s.logger.Info("stats scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.report(ctx)
		}
	}
}

// tally counts lifecycle events until sub is closed.
func (s *Scheduler) tally(sub *bus.Subscription) {
	defer s.wg.Done()
	for ev := range sub.Ch() {
		s.mu.Lock()
		switch ev.Topic {
		case bus.TopicTaskSubmitted:
			s.window.Submitted++
		case bus.TopicTaskCompleted:
			s.window.Completed++
		case bus.TopicTaskFailed:
			s.window.Failed++
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) takeWindow() Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.window
	s.window = Activity{}
	return w
}

func (s *Scheduler) report(ctx context.Context) {
	counts, err := s.source.Counts(ctx)
	if err != nil {
		s.logger.Error("stats: failed to count tasks", "error", err)
		return
	}
	snap := Snapshot{At: time.Now(), Pool: s.source.Stats(), Tasks: counts, Window: s.takeWindow()}
	attrs := []any{
		"tasks_total", snap.Tasks.Total,
		"tasks_running", snap.Tasks.Running,
		"tasks_completed", snap.Tasks.Completed,
		"tasks_failed", snap.Tasks.Failed,
		"pool_active", snap.Pool.Active,
		"pool_pending", snap.Pool.Pending,
		"pool_capacity", snap.Pool.Capacity,
	}
	if s.bus != nil {
		attrs = append(attrs,
			"window_submitted", snap.Window.Submitted,
			"window_completed", snap.Window.Completed,
			"window_failed", snap.Window.Failed,
			"bus_subscribers", s.bus.SubscriberCount(),
		)
	}
	s.logger.Info("stats", attrs...)
	if s.onReport != nil {
		s.onReport(snap)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
