package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock guards the batch loop so only one worker instance processes the queue
// at a time. Concurrent batch runs would race duplicate fan-out upserts on
// the same dedupe hash.
type Lock interface {
	// Acquire tries to take the lease. False means another instance holds it.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease back. Only the holder's release takes effect.
	Release(ctx context.Context) error
}

// RedisLock is a lease in redis: SET NX with a TTL so a crashed worker frees
// the queue once the lease expires.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLock creates a lease on the given key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// Acquire implements Lock.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire worker lease: %w", err)
	}
	return ok, nil
}

// releaseScript deletes the lease only when this instance still holds it, so
// an expired-and-reacquired lease is never released out from under the new
// holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release implements Lock.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release worker lease: %w", err)
	}
	return nil
}

// LocalLock is an in-process Lock for single-instance deployments and tests.
type LocalLock struct {
	held chan struct{}
}

// NewLocalLock creates an unheld local lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(chan struct{}, 1)}
}

// Acquire implements Lock.
func (l *LocalLock) Acquire(_ context.Context) (bool, error) {
	select {
	case l.held <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Release implements Lock.
func (l *LocalLock) Release(_ context.Context) error {
	select {
	case <-l.held:
	default:
	}
	return nil
}
