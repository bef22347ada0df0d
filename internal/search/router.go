package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Router tries providers in order: unavailable providers are skipped, a
// provider error falls through to the next one, and the first success wins
// even when it carries no results.
type Router struct {
	providers []Provider
	logger    *slog.Logger
}

// NewRouter builds a router over providers in priority order.
func NewRouter(logger *slog.Logger, providers ...Provider) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{providers: providers, logger: logger}
}

// Providers returns the names of the configured providers in order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

func (r *Router) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	var errs []error
	tried := 0
	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried++
		results, err := p.Search(ctx, query, opts)
		if err != nil {
			r.logger.WarnContext(ctx, "search provider failed, trying next", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		r.logger.DebugContext(ctx, "search provider succeeded", "provider", p.Name(), "results", len(results))
		if results == nil {
			results = []Result{}
		}
		return results, nil
	}
	if tried == 0 {
		return nil, ErrNoProvider
	}
	return nil, fmt.Errorf("all search providers failed: %w", errors.Join(errs...))
}

// FromNames builds providers for the given names, in order. Unknown names
// are skipped with a warning.
func FromNames(logger *slog.Logger, names []string, keys map[string]string) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case "tavily":
			out = append(out, NewTavilyProvider(keys["tavily"], ""))
		case "brave_search", "brave":
			out = append(out, NewBraveProvider(keys["brave_search"], ""))
		case "duckduckgo", "ddg":
			out = append(out, NewDDGProvider(""))
		default:
			logger.Warn("unknown search provider ignored", "provider", name)
		}
	}
	return out
}
