package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis serializes across processes with SET NX PX leases. A lease expires
// after TTL even if its holder dies, so TTL must exceed the longest engine
// operation.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// RedisConfig configures a Redis locker.
type RedisConfig struct {
	Prefix     string
	TTL        time.Duration
	RetryDelay time.Duration
}

// NewRedis creates a locker over client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "scrap:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, retry: cfg.RetryDelay}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	acquired := make([]string, 0, len(keys))

	release := func() {
		// Release must not depend on the caller's ctx, which may be cancelled.
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = releaseScript.Run(bg, r.client, []string{acquired[i]}, token).Err()
		}
	}

	for _, key := range keys {
		full := r.prefix + key
		if err := r.acquire(ctx, full, token); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, full)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-time.After(r.retry):
		}
	}
}
