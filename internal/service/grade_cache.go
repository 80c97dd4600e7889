package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"progression_engine/internal/model"
	"progression_engine/pkg/logger"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// GradeCache 短期缓存评分结果。
// 持久化因锁冲突失败后重试同一提交时，不必再次调用评判服务。
type GradeCache interface {
	Get(ctx context.Context, key string) (*GradingResult, bool)
	Set(ctx context.Context, key string, result *GradingResult)
}

// GradeCacheKey 同一测验的相同作答得到相同的键，与作答顺序和大小写无关
func GradeCacheKey(learnerID uint, quiz *model.Quiz, submission AnswerSubmission) string {
	ids := make([]string, 0, len(submission))
	for id := range submission {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	types := make(map[string]model.QuestionType, len(quiz.Questions))
	for _, q := range quiz.Questions {
		types[q.ID] = q.Type
	}

	h := sha256.New()
	for _, id := range ids {
		answer := submission[id]
		var canonical string
		if types[id] == model.QuestionOpenText {
			raw, _ := json.Marshal([]string(answer))
			canonical = string(raw)
		} else {
			canonical = NormalizeChoice(answer)
		}
		fmt.Fprintf(h, "%s=%s\n", id, canonical)
	}

	return fmt.Sprintf("grade:%d:%s:%d:%s:%s:%s",
		learnerID, quiz.CourseID, quiz.Week, quiz.Difficulty, quiz.ID, hex.EncodeToString(h.Sum(nil)))
}

type cachedGrade struct {
	result    *GradingResult
	expiresAt time.Time
}

// MemoryGradeCache 未启用 Redis 时使用
type MemoryGradeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedGrade
	now     func() time.Time
}

func NewMemoryGradeCache(ttl time.Duration) *MemoryGradeCache {
	return &MemoryGradeCache{
		ttl:     ttl,
		entries: make(map[string]cachedGrade),
		now:     time.Now,
	}
}

func (c *MemoryGradeCache) Get(_ context.Context, key string) (*GradingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *MemoryGradeCache) Set(_ context.Context, key string, result *GradingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// 顺带清理过期项，防止无限增长
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedGrade{result: result, expiresAt: now.Add(c.ttl)}
}

type RedisGradeCache struct {
	Redis *redis.Client
	ttl   time.Duration
}

func NewRedisGradeCache(rdb *redis.Client, ttl time.Duration) *RedisGradeCache {
	return &RedisGradeCache{Redis: rdb, ttl: ttl}
}

func (c *RedisGradeCache) Get(ctx context.Context, key string) (*GradingResult, bool) {
	raw, err := c.Redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Warn("Grade cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var result GradingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		logger.Log.Warn("Grade cache entry corrupted", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

// Set 写缓存失败只记录日志，不影响评测流程
func (c *RedisGradeCache) Set(ctx context.Context, key string, result *GradingResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		logger.Log.Warn("Grade cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.Redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Log.Warn("Grade cache write failed", zap.String("key", key), zap.Error(err))
	}
}
