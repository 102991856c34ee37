package cachegw

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/tilecachegw/internal/operator"
)

// hotEntry is one cached tile body plus its sniffed format.
type hotEntry struct {
	data   []byte
	format string
}

// hotCache is a bounded in-process cache of recently served tiles, sized
// from operator.ComputeMemoryLimit against available RAM. Eviction is
// FIFO rather than true LRU — good enough for a hint cache in front of a
// store.Facade that remains the source of truth.
type hotCache struct {
	mu         sync.Mutex
	entries    map[string]hotEntry
	order      []string
	bytes      int64
	limitBytes int64
}

// newHotCache returns nil (disabled) when limitBytes <= 0.
func newHotCache(limitBytes int64) *hotCache {
	if limitBytes <= 0 {
		return nil
	}
	return &hotCache{entries: map[string]hotEntry{}, limitBytes: limitBytes}
}

func (c *hotCache) get(key string) (hotEntry, bool) {
	if c == nil {
		return hotEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *hotCache) put(key string, data []byte, format string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = hotEntry{data: data, format: format}
	c.order = append(c.order, key)
	c.bytes += int64(len(data))

	for c.bytes > c.limitBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			c.bytes -= int64(len(e.data))
			delete(c.entries, oldest)
		}
	}
}

func (c *hotCache) invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.bytes -= int64(len(e.data))
		delete(c.entries, key)
	}
}

// EnableHotCache sizes and attaches an in-process hot-tile cache to g,
// consulted by GetTile ahead of the store.Facade. Pass a fraction (e.g.
// operator.DefaultMemoryPressurePercent) of system RAM; the cache is
// left disabled if RAM detection fails or the computed budget is too
// small, matching ComputeMemoryLimit's own fallback.
func (g *Gateway) EnableHotCache(fraction float64, log *logrus.Entry) {
	limit := operator.ComputeMemoryLimit(fraction, log)
	g.hot = newHotCache(limit)
}
