// Package lock provides the cross-process guard for publication passes.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const DefaultPassLockKey = "postflow:lock:scheduled-publication"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another pass is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-key lease. The TTL bounds how long a crashed holder
// blocks other passes.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultPassLockKey
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	token, err := utils.GenerateRandomKey(16)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate lock token: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
		return nil
	}
	return unlock, true, nil
}
