package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finreport-qa/internal/config"
	"finreport-qa/internal/index"
	"finreport-qa/internal/model"
	"finreport-qa/pkg/embedding"
	"finreport-qa/pkg/llm"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/retry"
)

// QAService 基于单个文档的检索结果回答问题。
type QAService interface {
	Answer(ctx context.Context, question, documentID, userID string) (*model.Answer, error)
}

// DocumentReader 是问答服务对文档存储的依赖。
type DocumentReader interface {
	Get(ctx context.Context, documentID, userID string) (*model.Document, error)
}

type qaService struct {
	docs          DocumentReader
	index         index.Index
	embedder      embedding.Client
	llmClient     llm.Client
	conversations ConversationService
	cfg           config.RAGConfig
	gen           *llm.GenerationParams
}

// NewQAService 创建问答服务。conversations 可以为 nil。
func NewQAService(
	docs DocumentReader,
	idx index.Index,
	embedder embedding.Client,
	llmClient llm.Client,
	conversations ConversationService,
	cfg config.RAGConfig,
	gen *llm.GenerationParams,
) QAService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if strings.TrimSpace(cfg.Prompt.Rules) == "" {
		cfg.Prompt.Rules = config.DefaultPromptRules
	}
	if cfg.Prompt.RefStart == "" {
		cfg.Prompt.RefStart = config.DefaultRefStart
	}
	if cfg.Prompt.RefEnd == "" {
		cfg.Prompt.RefEnd = config.DefaultRefEnd
	}
	if cfg.Prompt.NoResultText == "" {
		cfg.Prompt.NoResultText = config.DefaultNoResultText
	}
	return &qaService{
		docs:          docs,
		index:         idx,
		embedder:      embedder,
		llmClient:     llmClient,
		conversations: conversations,
		cfg:           cfg,
		gen:           gen,
	}
}

// Answer 依次校验归属、状态和问题，然后检索并生成回答。
func (s *qaService) Answer(ctx context.Context, question, documentID, userID string) (*model.Answer, error) {
	doc, err := s.docs.Get(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusIndexed {
		return nil, model.NewError(model.KindDocumentNotReady, "document %s is %s, not ready for questions", documentID, doc.Status)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, model.NewError(model.KindEmptyQuestion, "question must not be empty")
	}

	log.Infof("[QAService] 步骤1: 向量化问题, DocumentID: %s", documentID)
	vector, err := s.embedder.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, model.WrapError(model.KindEmbeddingServiceError, err, "问题向量化失败")
	}

	log.Infof("[QAService] 步骤2: 检索 top_k=%d", s.cfg.TopK)
	hits, err := s.index.Query(ctx, documentID, vector, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}
	hits = s.filterByScore(hits)
	log.Infof("[QAService] 步骤2: 命中 %d 个片段", len(hits))

	if len(hits) == 0 {
		answer := &model.Answer{Text: s.cfg.Prompt.NoResultText, Sources: []model.Source{}}
		s.record(ctx, userID, documentID, question, answer)
		return answer, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.buildSystemMessage(buildContextText(hits))},
		{Role: llm.RoleUser, Content: question},
	}

	log.Info("[QAService] 步骤3: 调用大模型生成回答")
	var text string
	policy := retry.Policy{MaxAttempts: 2, Initial: s.cfg.GenerationBackoff}
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		out, genErr := s.llmClient.Chat(ctx, messages, s.gen)
		if genErr != nil {
			log.Warnf("[QAService] 第 %d 次生成失败: %v", attempt, genErr)
			return genErr
		}
		text = out
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.WrapError(model.KindAnswerGenerationFailure, err, "回答生成失败")
	}

	answer := &model.Answer{Text: text, Sources: buildSources(doc, hits)}
	s.record(ctx, userID, documentID, question, answer)
	return answer, nil
}

func (s *qaService) filterByScore(hits []model.ScoredPassage) []model.ScoredPassage {
	if s.cfg.MinScore <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= s.cfg.MinScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// record 把问答写入会话历史，失败只记日志。
func (s *qaService) record(ctx context.Context, userID, documentID, question string, answer *model.Answer) {
	if s.conversations == nil {
		return
	}
	now := time.Now()
	err := s.conversations.AddExchange(ctx, userID, documentID,
		model.ChatMessage{Role: llm.RoleUser, Content: question, Timestamp: now},
		model.ChatMessage{Role: llm.RoleAssistant, Content: answer.Text, Sources: answer.Sources, Timestamp: now},
	)
	if err != nil {
		log.Error("[QAService] 保存会话历史失败", err)
	}
}

// buildContextText 按检索顺序为片段编号。
func buildContextText(hits []model.ScoredPassage) string {
	var contextBuilder strings.Builder
	for i, h := range hits {
		contextBuilder.WriteString(fmt.Sprintf("[%d] %s\n", i+1, h.Passage.Text))
	}
	return contextBuilder.String()
}

func (s *qaService) buildSystemMessage(contextText string) string {
	var sys strings.Builder
	sys.WriteString(s.cfg.Prompt.Rules)
	sys.WriteString("\n\n")
	sys.WriteString(s.cfg.Prompt.RefStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString(s.cfg.Prompt.RefEnd)
	return sys.String()
}

func buildSources(doc *model.Document, hits []model.ScoredPassage) []model.Source {
	sources := make([]model.Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, model.Source{
			FileName:   doc.FileName,
			DocumentID: doc.ID,
			PassageID:  h.Passage.ID,
			Seq:        h.Passage.Seq,
			Score:      h.Score,
			Text:       h.Passage.Text,
		})
	}
	return sources
}
