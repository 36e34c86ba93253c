package alert

import (
	"context"
	"sync"
	"time"
)

// MemoryCooldown is a process-local Cooldown.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (c *MemoryCooldown) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.until[key] = now.Add(ttl)

	// keep the map from growing without bound
	for k, exp := range c.until {
		if !now.Before(exp) {
			delete(c.until, k)
		}
	}
	return true, nil
}
