package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/tasks"
)

func TestSubmit_RejectsEmptyQuery(t *testing.T) {
	svc, store := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, nil)
	if _, err := svc.Submit(context.Background(), ""); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Submit(\"\") err = %v, want ErrEmptyQuery", err)
	}
	counts, _ := store.Counts(context.Background())
	if counts.Total != 0 {
		t.Fatalf("rejected submission created %d records", counts.Total)
	}
}

func TestSubmit_AcceptsWhitespaceQuery(t *testing.T) {
	svc, store := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, nil)
	for _, q := range []string{"   ", "\n\t"} {
		id, err := svc.Submit(context.Background(), q)
		if err != nil || id == "" {
			t.Fatalf("Submit(%q) = %q, %v; want accepted", q, id, err)
		}
	}
	counts, _ := store.Counts(context.Background())
	if counts.Total != 2 {
		t.Fatalf("whitespace submissions created %d records, want 2", counts.Total)
	}
}

func TestSubmit_RecordVisibleBeforeFirstEvent(t *testing.T) {
	// Not started: no worker can append anything yet.
	svc, _ := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, nil)

	id, err := svc.Submit(context.Background(), "q")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	evs, err := svc.Events(context.Background(), id)
	if err != nil || evs == nil || len(evs) != 0 {
		t.Fatalf("expected empty non-nil log, got %#v, %v", evs, err)
	}
	status, _, err := svc.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != StatusRunning {
		t.Fatalf("expected running for a queued task, got %s", status)
	}
}

func TestSubmit_IDsAreUnique(t *testing.T) {
	svc, _ := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, func(c *Config) {
		c.MaxQueueDepth = 100
	})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := svc.Submit(context.Background(), "q")
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSubmit_QueueFullRejectsWithoutRecord(t *testing.T) {
	gate := make(chan struct{})
	svc, store := newTestService(t, &fakeSearcher{gate: gate}, &echoSummarizer{}, func(c *Config) {
		c.WorkerCount = 1
		c.MaxQueueDepth = 1
	})
	svc.Start(context.Background())

	first, err := svc.Submit(context.Background(), "one")
	if err != nil {
		t.Fatalf("Submit one: %v", err)
	}
	if _, err := svc.Submit(context.Background(), "two"); err != nil {
		t.Fatalf("Submit two: %v", err)
	}
	if _, err := svc.Submit(context.Background(), "three"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	counts, _ := store.Counts(context.Background())
	if counts.Total != 2 {
		t.Fatalf("expected 2 records, got %d", counts.Total)
	}
	waitFor(t, func() bool { return svc.Stats().Active == 1 })
	if st := svc.Stats(); st.Capacity != 2 || st.Pending != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	close(gate)
	waitTerminal(t, svc, first)
	// A freed slot admits again.
	waitFor(t, func() bool {
		_, err := svc.Submit(context.Background(), "four")
		return err == nil
	})
}

func TestStats_PendingExcludesRunning(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	svc, _ := newTestService(t, &fakeSearcher{gate: gate}, &echoSummarizer{}, func(c *Config) {
		c.WorkerCount = 2
		c.MaxQueueDepth = 5
	})
	svc.Start(context.Background())

	for _, q := range []string{"a", "b", "c"} {
		if _, err := svc.Submit(context.Background(), q); err != nil {
			t.Fatalf("Submit %s: %v", q, err)
		}
	}
	waitFor(t, func() bool { return svc.Stats().Active == 2 })
	if st := svc.Stats(); st.Pending != 1 {
		t.Fatalf("pending = %d with 2 running and 1 queued, want 1", st.Pending)
	}
}

func TestInspection_UnknownIDDivergence(t *testing.T) {
	svc, _ := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, nil)
	ctx := context.Background()

	evs, err := svc.Events(ctx, "never-submitted")
	if err != nil || len(evs) != 0 {
		t.Fatalf("expected empty events, got %v, %v", evs, err)
	}
	out, err := svc.Result(ctx, "never-submitted")
	if err != nil || out.State != tasks.StateRunning {
		t.Fatalf("plain result should report running, got %+v, %v", out, err)
	}
	status, _, err := svc.Status(ctx, "never-submitted")
	if err != nil || status != StatusUnknown {
		t.Fatalf("agent status should report unknown, got %s, %v", status, err)
	}
}

func TestStatus_CompletedAndFailed(t *testing.T) {
	svc, _ := newTestService(t, &fakeSearcher{results: []search.Result{{Title: "T"}}}, &echoSummarizer{}, nil)
	svc.Start(context.Background())
	id, _ := svc.Submit(context.Background(), "q")
	waitTerminal(t, svc, id)
	status, out, _ := svc.Status(context.Background(), id)
	if status != StatusCompleted || out.Result == nil {
		t.Fatalf("expected completed with result, got %s %+v", status, out)
	}

	failing, _ := newTestService(t, &fakeSearcher{errs: []error{errors.New("down")}}, &echoSummarizer{}, nil)
	failing.Start(context.Background())
	id, _ = failing.Submit(context.Background(), "q")
	waitTerminal(t, failing, id)
	status, out, _ = failing.Status(context.Background(), id)
	if status != StatusFailed || out.Error == "" {
		t.Fatalf("expected failed with error, got %s %+v", status, out)
	}
}

func TestDrain_FailsQueuedTasks(t *testing.T) {
	svc, _ := newTestService(t, &fakeSearcher{}, &echoSummarizer{}, nil)
	a, _ := svc.Submit(context.Background(), "a")
	b, _ := svc.Submit(context.Background(), "b")

	svc.Drain(time.Second)

	for _, id := range []string{a, b} {
		out, _ := svc.Result(context.Background(), id)
		if out.State != tasks.StateFailed || out.Error != msgShutdownBeforeStart {
			t.Fatalf("task %s: unexpected outcome %+v", id, out)
		}
		evs, _ := svc.Events(context.Background(), id)
		if len(evs) != 1 || evs[0].Type != tasks.EventFailed {
			t.Fatalf("task %s: unexpected events %+v", id, evs)
		}
	}
	if _, err := svc.Submit(context.Background(), "late"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected submissions after drain to be rejected, got %v", err)
	}
}

func TestDrain_CancelsStuckTasksAfterTimeout(t *testing.T) {
	svc, _ := newTestService(t, &fakeSearcher{gate: make(chan struct{})}, &echoSummarizer{}, func(c *Config) {
		c.WorkerCount = 1
	})
	svc.Start(context.Background())
	id, _ := svc.Submit(context.Background(), "stuck")
	waitEvents(t, svc, id, func(evs []tasks.Event) bool { return len(evs) == 1 })

	svc.Drain(20 * time.Millisecond)

	out, _ := svc.Result(context.Background(), id)
	if out.State != tasks.StateFailed || !strings.Contains(out.Error, "canceled") {
		t.Fatalf("expected cancelled failure, got %+v", out)
	}
}

func TestWatch_ReplaysThenStreams(t *testing.T) {
	b := bus.New()
	svc, _ := newTestService(t, &fakeSearcher{results: []search.Result{{Title: "T"}}}, &echoSummarizer{}, func(c *Config) {
		c.Bus = b
	})
	id, _ := svc.Submit(context.Background(), "q")

	snapshot, sub, err := svc.Watch(context.Background(), id)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer svc.Unwatch(sub)
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot before start, got %+v", snapshot)
	}

	svc.Start(context.Background())
	var got []bus.TaskEvent
	timeout := time.After(5 * time.Second)
	for len(got) == 0 || !got[len(got)-1].Terminal() {
		select {
		case ev := <-sub.Ch():
			got = append(got, ev.Payload.(bus.TaskEvent))
		case <-timeout:
			t.Fatalf("timed out; received %+v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 streamed events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Seq != i || ev.TaskID != id {
			t.Fatalf("event %d out of sequence: %+v", i, ev)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
