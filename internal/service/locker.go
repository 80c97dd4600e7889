package service

import (
	"context"
	"fmt"
	"progression_engine/internal/util"
	"progression_engine/pkg/logger"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker 同一 (learner, course, week) 的写操作串行执行。
// 在等待时间内拿不到锁时返回 ErrPersistenceConflict。
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func ProgressLockKey(learnerID uint, courseID string, week int) string {
	return fmt.Sprintf("progress:%d:%s:%d", learnerID, courseID, week)
}

func lockConflict(key string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: lock %s: %v", util.ErrPersistenceConflict, key, cause)
	}
	return fmt.Errorf("%w: lock %s busy", util.ErrPersistenceConflict, key)
}

type memoryLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker 单实例部署使用的进程内锁
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
	wait  time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*memoryLock),
		wait:  wait,
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &memoryLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, lockConflict(key, ctx.Err())
	case <-timer.C:
		l.release(key, entry)
		return nil, lockConflict(key, nil)
	}
}

func (l *MemoryLocker) release(key string, entry *memoryLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// 只删除自己持有的锁，避免误删过期后被他人重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

const redisLockRetryInterval = 20 * time.Millisecond

// RedisLocker 多实例部署使用的分布式锁（SET NX PX）
type RedisLocker struct {
	Redis *redis.Client
	ttl   time.Duration
	wait  time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{Redis: rdb, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.Redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, lockConflict(key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, lockConflict(key, nil)
		}
		select {
		case <-ctx.Done():
			return nil, lockConflict(key, ctx.Err())
		case <-time.After(redisLockRetryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 请求上下文可能已取消，释放锁使用独立的上下文
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.Redis, []string{key}, token).Err(); err != nil {
				logger.Log.Warn("Failed to release progress lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
