package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "batchfleet:lease:"

// renewScript extends the lease only if this instance still holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if this instance still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a per-pool lease in Redis so only one reconciler instance
// mutates a pool at a time.
type RedisLease struct {
	rdb      *redis.Client
	instance string
	ttl      time.Duration
}

// NewRedisLease connects to Redis and returns a lease held as instanceID.
func NewRedisLease(redisURL, instanceID string, ttl time.Duration) (*RedisLease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisLease(rdb, instanceID, ttl), nil
}

func newRedisLease(rdb *redis.Client, instanceID string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLease{rdb: rdb, instance: instanceID, ttl: ttl}
}

// Acquire takes the lease for key, or renews it if this instance holds it.
func (l *RedisLease) Acquire(ctx context.Context, key string) (bool, error) {
	k := leaseKeyPrefix + key
	ok, err := l.rdb.SetNX(ctx, k, l.instance, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, l.rdb, []string{k}, l.instance, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("lease: renew %s: %w", key, err)
	}
	return n == 1, nil
}

// Release drops the lease for key if this instance holds it.
func (l *RedisLease) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{leaseKeyPrefix + key}, l.instance).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease: release %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLease) Close() error {
	return l.rdb.Close()
}
