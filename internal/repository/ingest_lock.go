package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// IngestLock 保证同一文档同一时刻只有一次摄取在执行。
// 每次成功的 Acquire 返回一个令牌，只有持有该令牌的运行才能续期或释放锁。
type IngestLock interface {
	// Acquire 成功返回令牌和 true；已被占用返回 false。
	Acquire(ctx context.Context, documentID string) (string, bool, error)
	// Refresh 延长锁的有效期；令牌已失效时返回 false。
	Refresh(ctx context.Context, documentID, token string) (bool, error)
	Release(ctx context.Context, documentID, token string) error
	Held(ctx context.Context, documentID string) (bool, error)
}

// 只删除自己持有的锁，避免过期后误删下一次运行的锁。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

type redisIngestLock struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisIngestLock 基于 SET NX 实现，TTL 防止进程崩溃后锁永久残留。
// 运行时间可能超过 TTL，调用方需要定期 Refresh。
func NewRedisIngestLock(redisClient *redis.Client, ttl time.Duration) IngestLock {
	return &redisIngestLock{redisClient: redisClient, ttl: ttl}
}

func (l *redisIngestLock) key(documentID string) string {
	return fmt.Sprintf("ingest:lock:%s", documentID)
}

func (l *redisIngestLock) Acquire(ctx context.Context, documentID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.redisClient.SetNX(ctx, l.key(documentID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *redisIngestLock) Refresh(ctx context.Context, documentID, token string) (bool, error) {
	n, err := refreshScript.Run(ctx, l.redisClient, []string{l.key(documentID)}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh ingest lock: %w", err)
	}
	return n == 1, nil
}

func (l *redisIngestLock) Release(ctx context.Context, documentID, token string) error {
	if err := releaseScript.Run(ctx, l.redisClient, []string{l.key(documentID)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release ingest lock: %w", err)
	}
	return nil
}

func (l *redisIngestLock) Held(ctx context.Context, documentID string) (bool, error) {
	n, err := l.redisClient.Exists(ctx, l.key(documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ingest lock: %w", err)
	}
	return n > 0, nil
}

type memoryIngestLock struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemoryIngestLock 创建进程内的摄取锁，不会过期。
func NewMemoryIngestLock() IngestLock {
	return &memoryIngestLock{held: make(map[string]string)}
}

func (l *memoryIngestLock) Acquire(_ context.Context, documentID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[documentID]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[documentID] = token
	return token, true, nil
}

func (l *memoryIngestLock) Refresh(_ context.Context, documentID, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[documentID] == token, nil
}

func (l *memoryIngestLock) Release(_ context.Context, documentID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[documentID] == token {
		delete(l.held, documentID)
	}
	return nil
}

func (l *memoryIngestLock) Held(_ context.Context, documentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[documentID]
	return ok, nil
}
