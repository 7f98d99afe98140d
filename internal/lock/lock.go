// Package lock provides a Redis-backed lock that keeps index rebuilds
// single-flight across processes sharing one index store.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "newsrag:lock:"

// RedisLock is a named lock held with SET NX and a TTL. Each instance has a
// unique owner id so that it can only release or extend its own hold.
type RedisLock struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	ownerID string
}

func NewRedisLock(client *redis.Client, name string, ttl time.Duration) *RedisLock {
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:  client,
		key:     keyPrefix + name,
		ttl:     ttl,
		ownerID: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
	}
}

// Dial connects to the Redis server at url (redis://host:port/db) and checks it is reachable.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire returns false if another owner holds the lock.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.ownerID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release deletes the lock if this instance still owns it. Releasing a lock
// that expired or was never held is not an error.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.ownerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend resets the TTL of a lock held by this instance.
func (l *RedisLock) Extend(ctx context.Context) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.ownerID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if res == 0 {
		return fmt.Errorf("lock %s not held by this instance", l.key)
	}
	return nil
}

func (l *RedisLock) OwnerID() string { return l.ownerID }
