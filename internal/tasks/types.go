// Package tasks owns task records: the append-only event log of every
// submitted task and its write-once terminal outcome.
package tasks

import (
	"context"
	"errors"
)

// EventType enumerates the kinds of entries a task log may hold.
type EventType string

const (
	EventLog       EventType = "log"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Terminal reports whether an event of this type ends a task's log.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is one immutable entry of a task's progress log.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// Source is a search hit cited by a result.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Result is the terminal output of a completed task.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// State is the observable lifecycle state of a task's outcome.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Outcome is a snapshot of a task's terminal slot. Result is set only when
// State is StateCompleted; Error only when State is StateFailed.
type Outcome struct {
	State  State
	Result *Result
	Error  string
}

var (
	// ErrUnknownTask is returned by writes against an id that was never created.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTerminal is returned when a second terminal write is attempted.
	ErrTerminal = errors.New("task already terminal")
	// ErrExists is returned when Create is called twice for the same id.
	ErrExists = errors.New("task already exists")
)

// Store is the task record seam. Implementations must be safe for concurrent
// use: a reader never observes a partially appended event, and once SetResult
// or SetFailure returns every later read sees it.
//
// AppendEvent on an id that was never created is a silent no-op.
// Events on an unknown id returns an empty slice, not an error.
// There is no delete; records live as long as the store.
type Store interface {
	Create(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, id string, ev Event) error
	SetResult(ctx context.Context, id string, res Result) error
	SetFailure(ctx context.Context, id string, msg string) error
	Events(ctx context.Context, id string) ([]Event, error)
	Outcome(ctx context.Context, id string) (Outcome, error)
	Exists(ctx context.Context, id string) (bool, error)
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Counts summarises the store for health and stats reporting.
type Counts struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
