package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExportLock guards a day's export so that only one worker replica uploads
// it. A nil lock on the scheduler disables the guard entirely.
type ExportLock interface {
	// TryLock returns true if this process won the lock for the given day.
	TryLock(ctx context.Context, day time.Time) (bool, error)
	// Unlock releases the day's lock if this process still owns it.
	Unlock(ctx context.Context, day time.Time) error
}

// RedisExportLock implements ExportLock with SET NX and a TTL. A random
// ownership value and a Lua release script prevent one replica from
// releasing a lock another replica holds.
type RedisExportLock struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

// NewRedisExportLock creates a day-scoped export lock. The TTL bounds how
// long a crashed replica can block the export; it should comfortably exceed
// the longest expected export run.
func NewRedisExportLock(client *redis.Client, ttl time.Duration) *RedisExportLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisExportLock{
		client: client,
		ttl:    ttl,
		owner:  hex.EncodeToString(b),
	}
}

func (l *RedisExportLock) key(day time.Time) string {
	return "export:lock:" + day.UTC().Format("2006-01-02")
}

// TryLock attempts to claim the day's export.
func (l *RedisExportLock) TryLock(ctx context.Context, day time.Time) (bool, error) {
	return l.client.SetNX(ctx, l.key(day), l.owner, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Unlock releases the lock only if we still own it.
func (l *RedisExportLock) Unlock(ctx context.Context, day time.Time) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key(day)}, l.owner).Result()
	return err
}
