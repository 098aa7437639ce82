package stats

import "sync/atomic"

// Counter is a concurrency-safe monotonic counter, used for aggregate
// activity totals (e.g. journal-recovered note events) that need to be
// shared across several peers and read back by the metrics collector.
type Counter struct {
	n atomic.Uint64
}

// Add increments the counter by delta and returns the new total.
func (c *Counter) Add(delta uint64) uint64 {
	return c.n.Add(delta)
}

// Load returns the current total.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
