// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"finreport-qa/internal/model"
	"finreport-qa/internal/repository"
)

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, documentID, userID string) ([]model.ChatMessage, error)
	AddExchange(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error
	Forget(ctx context.Context, userID, documentID string) error
}

type conversationService struct {
	repo repository.ConversationRepository
	docs DocumentReader
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, docs DocumentReader) ConversationService {
	return &conversationService{repo: repo, docs: docs}
}

// GetConversationHistory 获取用户针对某个文档的消息历史，先做归属校验。
func (s *conversationService) GetConversationHistory(ctx context.Context, documentID, userID string) ([]model.ChatMessage, error) {
	if _, err := s.docs.Get(ctx, documentID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetConversationHistory(ctx, userID, documentID)
}

// AddExchange 将一轮问答添加到对话历史中。
func (s *conversationService) AddExchange(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error {
	return s.repo.AppendConversationHistory(ctx, userID, documentID, messages...)
}

// Forget 删除文档时清理历史。
func (s *conversationService) Forget(ctx context.Context, userID, documentID string) error {
	return s.repo.DeleteConversationHistory(ctx, userID, documentID)
}
