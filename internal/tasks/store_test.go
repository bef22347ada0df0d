package tasks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

// storeFactories runs every contract test against each Store implementation.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "scout.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_CreateStartsEmptyAndRunning(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Create(ctx, "t1"); err != nil {
			t.Fatalf("create: %v", err)
		}
		events, err := s.Events(ctx, "t1")
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if events == nil || len(events) != 0 {
			t.Fatalf("events = %#v, want empty non-nil slice", events)
		}
		out, err := s.Outcome(ctx, "t1")
		if err != nil {
			t.Fatalf("outcome: %v", err)
		}
		if out.State != StateRunning || out.Result != nil {
			t.Fatalf("outcome = %#v, want running with no result", out)
		}
		ok, err := s.Exists(ctx, "t1")
		if err != nil || !ok {
			t.Fatalf("exists = %v, %v; want true", ok, err)
		}
		if err := s.Create(ctx, "t1"); !errors.Is(err, ErrExists) {
			t.Fatalf("second create err = %v, want ErrExists", err)
		}
	})
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Create(ctx, "t1"); err != nil {
			t.Fatalf("create: %v", err)
		}
		want := []Event{
			{Type: EventLog, Message: "search started"},
			{Type: EventLog, Message: "retrieved 3 results"},
			{Type: EventCompleted, Message: "task completed"},
		}
		for i, ev := range want {
			if err := s.AppendEvent(ctx, "t1", ev); err != nil {
				t.Fatalf("append: %v", err)
			}
			got, err := s.Events(ctx, "t1")
			if err != nil {
				t.Fatalf("events: %v", err)
			}
			if len(got) != i+1 {
				t.Fatalf("len(events) = %d after %d appends", len(got), i+1)
			}
		}
		got, _ := s.Events(ctx, "t1")
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("events = %#v, want %#v", got, want)
		}
	})
}

func TestStore_UnknownIDReads(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		events, err := s.Events(ctx, "missing")
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(events) != 0 {
			t.Fatalf("events = %#v, want empty", events)
		}
		out, err := s.Outcome(ctx, "missing")
		if err != nil {
			t.Fatalf("outcome: %v", err)
		}
		if out.State != StateRunning {
			t.Fatalf("state = %q, want running", out.State)
		}
		ok, err := s.Exists(ctx, "missing")
		if err != nil || ok {
			t.Fatalf("exists = %v, %v; want false", ok, err)
		}
	})
}

func TestStore_AppendToUnknownIsNoop(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.AppendEvent(ctx, "ghost", Event{Type: EventLog, Message: "x"}); err != nil {
			t.Fatalf("append to unknown id: %v", err)
		}
		if ok, _ := s.Exists(ctx, "ghost"); ok {
			t.Fatal("append must not create a record")
		}
	})
}

func TestStore_ResultIsWriteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Create(ctx, "t1")
		res := Result{Answer: "Sunny, 22C", Sources: []Source{{Title: "Weather Paris", URL: "https://x"}}}
		if err := s.SetResult(ctx, "t1", res); err != nil {
			t.Fatalf("set result: %v", err)
		}
		if err := s.SetResult(ctx, "t1", Result{Answer: "other"}); !errors.Is(err, ErrTerminal) {
			t.Fatalf("second set result err = %v, want ErrTerminal", err)
		}
		if err := s.SetFailure(ctx, "t1", "late"); !errors.Is(err, ErrTerminal) {
			t.Fatalf("set failure after result err = %v, want ErrTerminal", err)
		}
		out, err := s.Outcome(ctx, "t1")
		if err != nil {
			t.Fatalf("outcome: %v", err)
		}
		if out.State != StateCompleted || out.Result == nil || !reflect.DeepEqual(*out.Result, res) {
			t.Fatalf("outcome = %#v, want completed %#v", out, res)
		}
		if err := s.SetResult(ctx, "nope", res); !errors.Is(err, ErrUnknownTask) {
			t.Fatalf("set result on unknown err = %v, want ErrUnknownTask", err)
		}
	})
}

func TestStore_FailureIsTerminal(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Create(ctx, "t1")
		if err := s.SetFailure(ctx, "t1", "search failed: boom"); err != nil {
			t.Fatalf("set failure: %v", err)
		}
		out, _ := s.Outcome(ctx, "t1")
		if out.State != StateFailed || out.Error != "search failed: boom" || out.Result != nil {
			t.Fatalf("outcome = %#v", out)
		}
		if err := s.SetResult(ctx, "t1", Result{}); !errors.Is(err, ErrTerminal) {
			t.Fatalf("set result after failure err = %v, want ErrTerminal", err)
		}
	})
}

func TestStore_EmptySourcesStayEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Create(ctx, "t1")
		if err := s.SetResult(ctx, "t1", Result{Answer: "nothing found"}); err != nil {
			t.Fatalf("set result: %v", err)
		}
		out, _ := s.Outcome(ctx, "t1")
		if out.Result.Sources == nil || len(out.Result.Sources) != 0 {
			t.Fatalf("sources = %#v, want empty non-nil", out.Result.Sources)
		}
	})
}

func TestStore_Counts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_ = s.Create(ctx, fmt.Sprintf("t%d", i))
		}
		_ = s.SetResult(ctx, "t0", Result{Answer: "a"})
		_ = s.SetFailure(ctx, "t1", "boom")
		c, err := s.Counts(ctx)
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		want := Counts{Total: 3, Running: 1, Completed: 1, Failed: 1}
		if c != want {
			t.Fatalf("counts = %#v, want %#v", c, want)
		}
	})
}

func TestMemoryStore_ConcurrentAppendAndRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const tasks = 8
	const perTask = 50

	for i := 0; i < tasks; i++ {
		_ = s.Create(ctx, fmt.Sprintf("t%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		id := fmt.Sprintf("t%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perTask; j++ {
				_ = s.AppendEvent(ctx, id, Event{Type: EventLog, Message: fmt.Sprintf("%d", j)})
			}
		}()
		go func() {
			defer wg.Done()
			last := 0
			for j := 0; j < perTask; j++ {
				events, _ := s.Events(ctx, id)
				if len(events) < last {
					t.Errorf("log for %s shrank from %d to %d", id, last, len(events))
					return
				}
				for k, ev := range events {
					if ev.Message != fmt.Sprintf("%d", k) {
						t.Errorf("event %d of %s = %q", k, id, ev.Message)
						return
					}
				}
				last = len(events)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < tasks; i++ {
		events, _ := s.Events(ctx, fmt.Sprintf("t%d", i))
		if len(events) != perTask {
			t.Fatalf("t%d has %d events, want %d", i, len(events), perTask)
		}
	}
}

func TestMemoryStore_OutcomeIsACopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, "t1")
	_ = s.SetResult(ctx, "t1", Result{Answer: "a", Sources: []Source{{Title: "A", URL: "https://a"}}})

	out, _ := s.Outcome(ctx, "t1")
	out.Result.Sources[0].Title = "mutated"

	again, _ := s.Outcome(ctx, "t1")
	if again.Result.Sources[0].Title != "A" {
		t.Fatalf("stored result was mutated through a snapshot: %#v", again.Result)
	}
}

func TestSQLiteStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Create(ctx, "t1")
	_ = s.AppendEvent(ctx, "t1", Event{Type: EventLog, Message: "search started"})
	_ = s.SetResult(ctx, "t1", Result{Answer: "ok", Sources: []Source{{Title: "A", URL: "https://a"}}})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	events, _ := s2.Events(ctx, "t1")
	if len(events) != 1 || events[0].Message != "search started" {
		t.Fatalf("events after reopen = %#v", events)
	}
	out, _ := s2.Outcome(ctx, "t1")
	if out.State != StateCompleted || out.Result.Sources[0].URL != "https://a" {
		t.Fatalf("outcome after reopen = %#v", out)
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if !isSQLiteBusy(errors.New("database is locked")) {
		t.Fatal("expected busy for locked database")
	}
	if isSQLiteBusy(errors.New("no such table")) {
		t.Fatal("unexpected busy")
	}
	if isSQLiteBusy(nil) {
		t.Fatal("nil is not busy")
	}
}
