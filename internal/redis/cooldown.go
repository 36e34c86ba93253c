package redis

import (
	"context"
	"fmt"
	"time"
)

// Cooldown is a SET NX EX lock per key, shared by every bridge process using
// the same Redis. It satisfies alert.Cooldown.
type Cooldown struct {
	client *Client
	prefix string
}

func NewCooldown(client *Client, prefix string) *Cooldown {
	return &Cooldown{client: client, prefix: prefix}
}

// Acquire returns true if key was free and is now held for ttl.
func (c *Cooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.rdb.SetNX(ctx, c.key(key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (c *Cooldown) key(k string) string {
	return keyPrefix + c.prefix + ":" + k
}
