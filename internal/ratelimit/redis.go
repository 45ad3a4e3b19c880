package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys; default "jobwatch:rl:".
	Prefix string
}

// acquireScript compares against the caller's clock rather than the server's
// so every backend agrees on window boundaries. The key's TTL is the window,
// so idle keys expire on their own.
var acquireScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and (tonumber(ARGV[1]) - tonumber(last)) < tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Redis keeps window state in Redis for multi-instance deployments that do
// not share a relational store.
type Redis struct {
	client redis.Scripter
	close  func() error
	prefix string
	window atomic.Int64
}

func NewRedis(cfg RedisConfig, window time.Duration) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	r := newRedis(client, cfg.Prefix, window)
	r.close = client.Close
	return r, nil
}

func newRedis(client redis.Scripter, prefix string, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "jobwatch:rl:"
	}
	if window <= 0 {
		window = DefaultWindow
	}
	r := &Redis{client: client, prefix: prefix}
	r.window.Store(int64(window))
	return r
}

func (r *Redis) TryAcquire(ctx context.Context, key string, now time.Time) (bool, error) {
	window := time.Duration(r.window.Load())
	n, err := acquireScript.Run(ctx, r.client, []string{r.prefix + key}, now.UnixMilli(), window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis acquire %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) SetWindow(window time.Duration) {
	if window > 0 {
		r.window.Store(int64(window))
	}
}

func (r *Redis) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}
