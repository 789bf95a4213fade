package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobLockKey builds redis keys for job critical sections.
func JobLockKey(job string) string {
	return fmt.Sprintf("jobs:%s:lock", job)
}

// ErrLockHeld indicates another run currently holds the lock.
var ErrLockHeld = errors.New("run lock already held")

// RunLock serialises background job runs across workers. A new run must not
// start while a previous run is still in progress.
type RunLock struct {
	client *redis.Client
}

// NewRunLock constructs a RunLock backed by redis.
func NewRunLock(client *redis.Client) *RunLock {
	return &RunLock{client: client}
}

// releaseScript deletes the lock only when the stored token matches, so a run
// that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lock for the named job. The returned release function is
// safe to call exactly once; it is a no-op when the lock has since expired.
func (l *RunLock) Acquire(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("run lock not configured")
	}
	if job == "" {
		return nil, errors.New("run lock job name required")
	}
	token := uuid.NewString()
	key := JobLockKey(job)
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("run lock acquire: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
