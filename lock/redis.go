package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/xraph/bursar/store"
)

// compile-time interface checks
var (
	_ Locker          = (*Redis)(nil)
	_ store.Sequencer = (*Redis)(nil)
)

// releaseScript deletes the lock only when it still carries our token, so
// an expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// sequenceScript sets the counter to max(current+1, floor).
var sequenceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
local nxt = current + 1
if floor > nxt then
	nxt = floor
end
redis.call("SET", KEYS[1], nxt)
return nxt
`)

// Redis is a cross-process Locker and store.Sequencer backed by Redis.
// Locks are SET NX PX keys holding a random token; they expire after the
// TTL if the holder dies.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix. Default "bursar:".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL sets how long a lock survives without release. Default 10s.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithRetryInterval sets the pause between acquisition attempts. Default 25ms.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.retry = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// NewRedis creates a Redis locker over an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "bursar:",
		ttl:    10 * time.Second,
		retry:  25 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to a single Redis server and checks it answers.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("bursar/lock: redis ping %s: %w", addr, err)
	}
	return NewRedis(client, opts...), nil
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := r.prefix + "lock:" + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("bursar/lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done; release anyway.
			rctx, cancel := context.WithTimeout(context.Background(), r.ttl)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{name}, token).Err(); err != nil {
				r.logger.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}

// NextSequence implements store.Sequencer.
func (r *Redis) NextSequence(ctx context.Context, name string, floor int64) (int64, error) {
	n, err := sequenceScript.Run(ctx, r.client, []string{r.prefix + "seq:" + name}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("bursar/lock: sequence %s: %w", name, err)
	}
	return n, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
