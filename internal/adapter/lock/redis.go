package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vndrag/internal/port"
)

var _ port.Locker = (*Redis)(nil)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease-based lock shared by every process using the same
// Redis database. A held lease is renewed every ttl/3 until released; a
// crashed holder stops renewing, so its lease lapses after at most ttl.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Timeout  time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return NewRedisWithClient(client, cfg.Prefix, cfg.TTL, logger), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default().With("component", "redis-lock")
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	name := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	done := make(chan struct{})
	go keepAlive(r.ttl/3, done, func() (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		defer cancel()
		n, err := renewScript.Run(ctx, r.client, []string{name}, token, r.ttl.Milliseconds()).Int64()
		return n == 1, err
	}, r.logger.With("key", name))

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{name}, token).Err(); err != nil {
				r.logger.Warn("release lock", "key", name, "error", err)
			}
		})
	}, true, nil
}

// keepAlive calls renew every interval until done is closed or the lease
// turns out to be owned by someone else.
func keepAlive(interval time.Duration, done <-chan struct{}, renew func() (bool, error), logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			held, err := renew()
			if err != nil {
				// transient; the lease still has up to two intervals left
				logger.Warn("renew lock", "error", err)
				continue
			}
			if !held {
				logger.Warn("lock lease lost")
				return
			}
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
