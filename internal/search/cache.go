package search

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoises successful searches keyed by query and options. Errors are
// never cached.
type Cache struct {
	next  Searcher
	items *lru.Cache[string, []Result]
}

// NewCache wraps next with an LRU of the given size. A size of zero or less
// returns next unchanged.
func NewCache(next Searcher, size int) (Searcher, error) {
	if size <= 0 {
		return next, nil
	}
	items, err := lru.New[string, []Result](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &Cache{next: next, items: items}, nil
}

func cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%d\x00%s\x00%s", opts.limit(), opts.Depth, query)
}

func (c *Cache) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	key := cacheKey(query, opts)
	if hit, ok := c.items.Get(key); ok {
		return slices.Clone(hit), nil
	}
	results, err := c.next.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	c.items.Add(key, slices.Clone(results))
	return results, nil
}

// Len reports the number of cached queries.
func (c *Cache) Len() int { return c.items.Len() }
