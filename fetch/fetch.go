// Package fetch retrieves the source of dynamically referenced scripts and
// entries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned by [Static] for unknown URLs.
	ErrNotFound = errors.New(`fetch: not found`)

	// ErrStatus is returned by [HTTP] for non-2xx responses.
	ErrStatus = errors.New(`fetch: unexpected status`)
)

type (
	// Fetcher retrieves the content at a URL.
	Fetcher interface {
		Fetch(ctx context.Context, url string) (string, error)
	}

	// Func adapts a function to [Fetcher].
	Func func(ctx context.Context, url string) (string, error)

	// Static serves content from a fixed map, keyed by URL.
	Static map[string]string

	// Cache memoizes successful fetches, and deduplicates concurrent fetches
	// of the same URL. Use [NewCache].
	Cache struct {
		fetcher Fetcher
		group   singleflight.Group
		mu      sync.RWMutex
		entries map[string]string
	}
)

var (
	_ Fetcher = Func(nil)
	_ Fetcher = Static(nil)
	_ Fetcher = (*Cache)(nil)
	_ Fetcher = (*HTTP)(nil)
)

func (f Func) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

func (s Static) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return ``, err
	}
	if v, ok := s[url]; ok {
		return v, nil
	}
	return ``, fmt.Errorf(`%w: %s`, ErrNotFound, url)
}

// NewCache wraps fetcher.
func NewCache(fetcher Fetcher) *Cache {
	if fetcher == nil {
		panic(`fetch: nil fetcher`)
	}
	return &Cache{fetcher: fetcher, entries: make(map[string]string)}
}

func (c *Cache) Fetch(ctx context.Context, url string) (string, error) {
	c.mu.RLock()
	v, ok := c.entries[url]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	result, err, _ := c.group.Do(url, func() (any, error) {
		v, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[url] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return ``, err
	}
	return result.(string), nil
}

// Forget evicts url from the cache.
func (c *Cache) Forget(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
	c.group.Forget(url)
}
