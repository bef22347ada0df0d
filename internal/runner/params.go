package runner

import (
	"sync/atomic"
	"time"
)

// Params are the collaborator parameters applied to one task. They are read
// once when the task starts, so a reload never changes a running task.
type Params struct {
	MaxResults    int
	Depth         string
	MaxTokens     int
	Temperature   float64
	SearchTimeout time.Duration
	LLMTimeout    time.Duration
}

// DefaultParams returns the reference collaborator parameters.
func DefaultParams() Params {
	return Params{
		MaxResults:    5,
		Depth:         "advanced",
		MaxTokens:     512,
		Temperature:   0.3,
		SearchTimeout: 30 * time.Second,
		LLMTimeout:    60 * time.Second,
	}
}

// ParamSource holds the current Params and may be updated concurrently by
// a config reload.
type ParamSource struct {
	v atomic.Pointer[Params]
}

// NewParamSource returns a source initialised with p.
func NewParamSource(p Params) *ParamSource {
	s := &ParamSource{}
	s.Store(p)
	return s
}

// Load returns a copy of the current parameters.
func (s *ParamSource) Load() Params {
	if s == nil {
		return DefaultParams()
	}
	if p := s.v.Load(); p != nil {
		return *p
	}
	return DefaultParams()
}

// Store replaces the current parameters.
func (s *ParamSource) Store(p Params) {
	s.v.Store(&p)
}
