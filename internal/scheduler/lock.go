package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// passLocker guards a pass so that at most one replica runs it at a time.
type passLocker interface {
	TryLock(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// PassLock is a redis lease held for the duration of one pass.
type PassLock struct {
	client *redis.Client
	script *redis.Script
	key    string
	ttl    time.Duration
}

func NewPassLock(client *redis.Client, key string, ttl time.Duration) *PassLock {
	if client == nil {
		return nil
	}
	return &PassLock{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		key:    key,
		ttl:    ttl,
	}
}

func (l *PassLock) TryLock(ctx context.Context) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if l.key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if l.ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes the lease only if it is still owned by token.
func (l *PassLock) Release(ctx context.Context, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.key}, token).Err()
}
