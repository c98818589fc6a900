package llmcache

import "time"

// SetClock replaces the time source used for record timestamps.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}
