package format

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/lanikai/vout/internal/v4l2"
)

type cacheKey struct {
	req v4l2.PixFormat
	lim string
}

type cacheEntry struct {
	pix    v4l2.PixFormat
	layout Layout
}

// Cache memoizes Negotiate results. Clients tend to probe the same handful
// of formats repeatedly (try, set, get), and the limits only change with the
// display mode.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

func NewCache(size int) *Cache {
	return &Cache{lru: lru.New(size)}
}

// Negotiate is format.Negotiate with memoization.
func (c *Cache) Negotiate(req v4l2.PixFormat, lim Limits) (v4l2.PixFormat, Layout, error) {
	key := cacheKey{req, lim.key()}

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		e := v.(cacheEntry)
		return e.pix, e.layout, nil
	}
	c.mu.Unlock()

	pix, layout, err := Negotiate(req, lim)
	if err != nil {
		return pix, layout, err
	}

	c.mu.Lock()
	c.lru.Add(key, cacheEntry{pix, layout})
	c.mu.Unlock()
	return pix, layout, nil
}

// Purge drops every cached result, e.g. after a display mode change.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Clear()
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Limits holds a slice and so cannot be a map key directly.
func (lim *Limits) key() string {
	b := make([]byte, 0, 64+4*len(lim.Formats))
	for _, f := range lim.Formats {
		b = append(b, byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
	}
	for _, v := range []int{lim.MinWidth, lim.MinHeight, lim.MaxWidth, lim.MaxHeight,
		lim.PixelsPerLine, lim.ActiveWidth, lim.ActiveHeight} {
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	for _, f := range []bool{lim.Deinterlace, lim.Progressive, lim.HD} {
		if f {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	}
	return string(b)
}
