package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// unlockScript releases the lock only when the stored token still belongs
// to this holder. GET and DEL run as one script so the lock cannot expire
// and be reacquired by someone else between the two calls.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLock is a non-blocking distributed mutex over a single key.
// Callers that need to wait must retry TryLock themselves.
type RedisLock struct {
	client *redis.Client
	name   string
	token  string
}

var lockSeq atomic.Int64

func NewRedisLock(client *redis.Client, name string) *RedisLock {
	return &RedisLock{
		client: client,
		name:   name,
		// Token is unique per lock instance so a holder can only ever
		// release what it acquired itself.
		token: fmt.Sprintf("%s-%d", uuid.NewString(), lockSeq.Add(1)),
	}
}

// TryLock attempts to acquire the lock and returns immediately.
// The TTL is a safety valve against a crashed holder; critical sections
// must finish well inside it.
func (l *RedisLock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, lockKeyPrefix+l.name, l.token, ttl).Result()
}

// Unlock releases the lock if this instance still holds it. A token
// mismatch or missing key means ownership was already lost to TTL expiry;
// both are treated as a no-op, not an error.
func (l *RedisLock) Unlock(ctx context.Context) error {
	err := unlockScript.Run(ctx, l.client, []string{lockKeyPrefix + l.name}, l.token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
