package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared connection behind the redis record store, the render
// queue and the health check.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for addr. Timeouts are short so /healthz and
// check-ins fail fast when redis is gone; go-redis adds the BRPOP block time
// to the read deadline of the render queue's consumer.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		DialTimeout:           2 * time.Second,
		ReadTimeout:           2 * time.Second,
		WriteTimeout:          time.Second,
		ContextTimeoutEnabled: true,
	})
	return &Redis{Client: client}
}

// Healthy reports whether redis answers PING.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
