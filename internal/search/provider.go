// Package search implements the web search collaborator: a set of provider
// backends behind an ordered router, with an optional result cache.
package search

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Result is one search hit in the order the provider ranked it.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Depth values understood by providers that support them.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// Options carries the per-call parameters of a search.
type Options struct {
	MaxResults int
	Depth      string
}

func (o Options) limit() int {
	if o.MaxResults <= 0 {
		return 5
	}
	return o.MaxResults
}

// Searcher is the narrow contract the task runner depends on.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Provider is a concrete search backend. Available reports whether the
// provider has what it needs (e.g. an API key) to be tried at all.
type Provider interface {
	Searcher
	Name() string
	Available() bool
}

// ErrNoProvider is returned when no configured provider is available.
var ErrNoProvider = errors.New("no search provider available")

// defaultHTTPClient backs providers that were not given a client. The
// deadline that matters comes from the caller's context.
var defaultHTTPClient = &http.Client{Timeout: 60 * time.Second}

func truncate(results []Result, n int) []Result {
	if len(results) > n {
		return results[:n]
	}
	return results
}
