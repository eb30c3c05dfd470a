package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a Redis-backed mutual exclusion primitive. The TTL bounds how long
// a crashed holder can block other processes.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	rand.Read(b)

	return &Lock{
		client: client,
		key:    key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire blocks until the lock is held or the context is done.
func (l *Lock) Acquire(ctx context.Context) error {
	for {
		acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Release deletes the lock only if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	if err := l.client.Eval(ctx, script, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
