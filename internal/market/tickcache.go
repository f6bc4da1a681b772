package market

import "github.com/quantloop/quantloop/internal/schema"

// TickCache is a fixed-capacity ring buffer of the most recent ticks for one
// source. Bar-driven sources never populate it; queries return empty.
type TickCache struct {
	buf   []schema.Tick
	head  int
	count int
}

// NewTickCache allocates a cache holding up to capacity ticks.
func NewTickCache(capacity int) *TickCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickCache{buf: make([]schema.Tick, capacity)}
}

// Push appends a tick, evicting the oldest entry once capacity is exceeded.
func (c *TickCache) Push(t schema.Tick) {
	if c == nil {
		return
	}
	idx := (c.head + c.count) % len(c.buf)
	c.buf[idx] = t
	if c.count < len(c.buf) {
		c.count++
		return
	}
	c.head = (c.head + 1) % len(c.buf)
}

// Count returns the current occupancy.
func (c *TickCache) Count() int {
	if c == nil {
		return 0
	}
	return c.count
}

// Window returns the last min(n, Count) ticks, oldest first.
func (c *TickCache) Window(n int) []schema.Tick {
	if c == nil || n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	out := make([]schema.Tick, 0, n)
	start := c.count - n
	for i := start; i < c.count; i++ {
		out = append(out, c.buf[(c.head+i)%len(c.buf)])
	}
	return out
}

// Latest returns the most recent tick.
func (c *TickCache) Latest() (schema.Tick, bool) {
	if c == nil || c.count == 0 {
		return schema.Tick{}, false
	}
	return c.buf[(c.head+c.count-1)%len(c.buf)], true
}
