// Package redisgate shares the alert cooldown across relay replicas.
package redisgate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:cooldown:"

// Cooldown is a CooldownStore backed by SET NX PX: the first replica to set
// the key is admitted, the key's expiry is the window.
type Cooldown struct {
	client redis.Cmdable
}

func NewCooldown(client redis.Cmdable) *Cooldown {
	return &Cooldown{client: client}
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Cooldown) TryAcquire(ctx context.Context, instrumentID string, window time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+instrumentID, time.Now().UnixMilli(), window).Result()
}
