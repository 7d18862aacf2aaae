package fetch

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cached keeps successful pages in an LRU keyed by URL and collapses
// concurrent fetches of the same URL into one upstream call.
type Cached struct {
	next  Fetcher
	pages *lru.Cache[string, string]
	group singleflight.Group
}

func NewCached(next Fetcher, size int) (*Cached, error) {
	pages, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	return &Cached{next: next, pages: pages}, nil
}

func (c *Cached) Fetch(ctx context.Context, url string) (string, error) {
	if markup, ok := c.pages.Get(url); ok {
		return markup, nil
	}

	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		markup, err := c.next.Fetch(ctx, url)
		if err != nil {
			return "", err
		}
		c.pages.Add(url, markup)
		return markup, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cached) Len() int {
	return c.pages.Len()
}

// Forget drops a URL so the next fetch goes upstream.
func (c *Cached) Forget(url string) {
	c.pages.Remove(url)
}
