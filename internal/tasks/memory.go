package tasks

import (
	"context"
	"slices"
	"sync"
)

type record struct {
	mu      sync.RWMutex
	events  []Event
	outcome Outcome
}

// MemoryStore keeps task records in process memory. The map lock is held
// only to find or insert a record; appends and reads lock the record itself,
// so runners never contend with each other.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func (s *MemoryStore) Create(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return ErrExists
	}
	s.records[id] = &record{outcome: Outcome{State: StateRunning}}
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, id string, ev Event) error {
	rec := s.lookup(id)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	rec.events = append(rec.events, ev)
	rec.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetResult(_ context.Context, id string, res Result) error {
	rec := s.lookup(id)
	if rec == nil {
		return ErrUnknownTask
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.outcome.State != StateRunning {
		return ErrTerminal
	}
	stored := Result{Answer: res.Answer, Sources: slices.Clone(res.Sources)}
	if stored.Sources == nil {
		stored.Sources = []Source{}
	}
	rec.outcome = Outcome{State: StateCompleted, Result: &stored}
	return nil
}

func (s *MemoryStore) SetFailure(_ context.Context, id string, msg string) error {
	rec := s.lookup(id)
	if rec == nil {
		return ErrUnknownTask
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.outcome.State != StateRunning {
		return ErrTerminal
	}
	rec.outcome = Outcome{State: StateFailed, Error: msg}
	return nil
}

func (s *MemoryStore) Events(_ context.Context, id string) ([]Event, error) {
	rec := s.lookup(id)
	if rec == nil {
		return []Event{}, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	out := make([]Event, len(rec.events))
	copy(out, rec.events)
	return out, nil
}

func (s *MemoryStore) Outcome(_ context.Context, id string) (Outcome, error) {
	rec := s.lookup(id)
	if rec == nil {
		return Outcome{State: StateRunning}, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	out := rec.outcome
	if out.Result != nil {
		// Hand out a copy so callers cannot reach the stored sources.
		res := Result{Answer: out.Result.Answer, Sources: slices.Clone(out.Result.Sources)}
		out.Result = &res
	}
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	return s.lookup(id) != nil, nil
}

func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	c := Counts{Total: len(recs)}
	for _, rec := range recs {
		rec.mu.RLock()
		switch rec.outcome.State {
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		default:
			c.Running++
		}
		rec.mu.RUnlock()
	}
	return c, nil
}

func (s *MemoryStore) Close() error { return nil }
