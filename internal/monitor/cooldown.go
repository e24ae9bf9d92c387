package monitor

import (
	"sync"
	"time"
)

func WithinCooldown(last, now time.Time, cooldown time.Duration) bool {
	return now.Sub(last) < cooldown
}

// Cooldown remembers when each key last fired. It is safe for concurrent use.
type Cooldown struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
}

func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, last: map[string]time.Time{}}
}

// Ready reports whether key may fire at now without recording anything. A
// zero period allows every call.
func (c *Cooldown) Ready(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	return !ok || !WithinCooldown(last, now, c.period)
}

// Mark records that key fired at now.
func (c *Cooldown) Mark(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = now
}

// Forget drops entries older than the period so the map does not grow
// without bound.
func (c *Cooldown) Forget(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key, last := range c.last {
		if !WithinCooldown(last, now, c.period) {
			delete(c.last, key)
			dropped++
		}
	}
	return dropped
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
