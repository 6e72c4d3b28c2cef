package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrRunInProgress  = errors.New("settlement_run_in_progress")
	ErrRemoteLockHeld = fmt.Errorf("%w: held by another replica", ErrRunInProgress)
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RunLock allows at most one settlement run at a time. The in-process mutex is always
// taken; the redis lease additionally excludes other replicas when a client is set.
type RunLock struct {
	local  sync.Mutex
	client *redis.Client
	script *redis.Script
	key    string
	log    *zap.Logger
}

func NewRunLock(client *redis.Client, key string, log *zap.Logger) *RunLock {
	if key == "" {
		key = defaultLockKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RunLock{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		key:    key,
		log:    log,
	}
}

// Distributed reports whether the lock coordinates across processes.
func (l *RunLock) Distributed() bool {
	return l.client != nil
}

// TryAcquire takes the lock without waiting. It returns ErrRunInProgress when a local
// run holds it and ErrRemoteLockHeld when another replica does. The release func
// must be called exactly once.
func (l *RunLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), error) {
	if !l.local.TryLock() {
		return nil, ErrRunInProgress
	}
	if l.client == nil {
		return l.local.Unlock, nil
	}

	if ttl <= 0 {
		l.local.Unlock()
		return nil, errors.New("lock ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		l.local.Unlock()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		l.local.Unlock()
		return nil, ErrRemoteLockHeld
	}

	release := func() {
		defer l.local.Unlock()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		// A lease that expired and was taken by another replica is left alone.
		if err := l.script.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			// The lease still expires after its TTL.
			l.log.Warn("scheduler.lock.release_failed", zap.String("key", l.key), zap.Error(err))
		}
	}
	return release, nil
}
