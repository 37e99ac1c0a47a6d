package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const SweeperLeaderKey = "sweeper:leader"

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)
)

// LeaderLock is a lease on a key. The holder keeps it by acquiring again
// before the TTL runs out; a crashed holder loses it when the key expires.
type LeaderLock struct {
	rdb        *goredis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

func NewLeaderLock(rdb *goredis.Client, key, instanceID string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{rdb: rdb, key: key, instanceID: instanceID, ttl: ttl}
}

// TryAcquire takes the lease when it is free, or extends it when this
// instance already holds it.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release gives the lease up if this instance still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.key, err)
	}
	return nil
}

// Holder returns the instance holding the lease, or "" when it is free.
func (l *LeaderLock) Holder(ctx context.Context) (string, error) {
	id, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", l.key, err)
	}
	return id, nil
}
