// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"finreport-qa/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了按用户和文档保存问答历史的操作接口。
type ConversationRepository interface {
	GetConversationHistory(ctx context.Context, userID, documentID string) ([]model.ChatMessage, error)
	AppendConversationHistory(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error
	DeleteConversationHistory(ctx context.Context, userID, documentID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
	limit       int
	ttl         time.Duration
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client, limit int, ttl time.Duration) ConversationRepository {
	if limit <= 0 {
		limit = 20
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisConversationRepository{redisClient: redisClient, limit: limit, ttl: ttl}
}

func conversationKey(userID, documentID string) string {
	return fmt.Sprintf("conversation:%s:%s", userID, documentID)
}

// GetConversationHistory 从 Redis 获取对话历史记录。
func (r *redisConversationRepository) GetConversationHistory(ctx context.Context, userID, documentID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(userID, documentID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendConversationHistory 追加消息并只保留最近 limit 条。
func (r *redisConversationRepository) AppendConversationHistory(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error {
	history, err := r.GetConversationHistory(ctx, userID, documentID)
	if err != nil {
		return err
	}
	history = trimHistory(append(history, messages...), r.limit)
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(userID, documentID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) DeleteConversationHistory(ctx context.Context, userID, documentID string) error {
	if err := r.redisClient.Del(ctx, conversationKey(userID, documentID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation history: %w", err)
	}
	return nil
}

func trimHistory(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}

type memoryConversationRepository struct {
	mu      sync.Mutex
	limit   int
	history map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 创建进程内的对话历史存储（无过期）。
func NewMemoryConversationRepository(limit int) ConversationRepository {
	if limit <= 0 {
		limit = 20
	}
	return &memoryConversationRepository{limit: limit, history: make(map[string][]model.ChatMessage)}
}

func (r *memoryConversationRepository) GetConversationHistory(_ context.Context, userID, documentID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.history[conversationKey(userID, documentID)]
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *memoryConversationRepository) AppendConversationHistory(_ context.Context, userID, documentID string, messages ...model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := conversationKey(userID, documentID)
	r.history[key] = trimHistory(append(r.history[key], messages...), r.limit)
	return nil
}

func (r *memoryConversationRepository) DeleteConversationHistory(_ context.Context, userID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, conversationKey(userID, documentID))
	return nil
}
