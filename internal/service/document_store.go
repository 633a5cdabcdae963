// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finreport-qa/internal/index"
	"finreport-qa/internal/model"
	"finreport-qa/internal/repository"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/storage"
)

// DocumentStore 是文档元数据的唯一入口：所有面向用户的读取都在这里做归属校验，
// 状态只能按流水线顺序前进，同一文档的所有修改串行执行。
type DocumentStore struct {
	repo    repository.DocumentRepository
	index   index.Index
	objects storage.ObjectStore
	locks   *keyedMutex

	hookMu   sync.Mutex
	onDelete []func(documentID string)

	watchMu  sync.Mutex
	watchers map[string]map[chan model.Document]struct{}
}

// NewDocumentStore 创建文档存储。
func NewDocumentStore(repo repository.DocumentRepository, idx index.Index, objects storage.ObjectStore) *DocumentStore {
	return &DocumentStore{
		repo:     repo,
		index:    idx,
		objects:  objects,
		locks:    newKeyedMutex(),
		watchers: make(map[string]map[chan model.Document]struct{}),
	}
}

// OnDelete 注册删除文档时的回调，例如取消正在进行的处理。
func (s *DocumentStore) OnDelete(fn func(documentID string)) {
	s.hookMu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.hookMu.Unlock()
}

func notFound(documentID string) error {
	return model.NewError(model.KindDocumentNotFound, "document %s not found", documentID)
}

func (s *DocumentStore) mapRepoErr(documentID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(documentID)
	}
	return err
}

// Create 以 pending 状态登记新文档。
func (s *DocumentStore) Create(ctx context.Context, doc *model.Document) error {
	doc.Status = model.StatusPending
	if err := s.repo.Create(ctx, doc); err != nil {
		return fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[DocumentStore] 文档已登记, ID: %s, Owner: %s, FileName: %s", doc.ID, doc.OwnerID, doc.FileName)
	return nil
}

// Lookup 不做归属校验，仅供流水线内部使用。
func (s *DocumentStore) Lookup(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		return nil, s.mapRepoErr(documentID, err)
	}
	return doc, nil
}

// Get 返回属于 userID 的文档；不存在返回 DocumentNotFound，属于他人返回 Unauthorized。
func (s *DocumentStore) Get(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.Lookup(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		log.Warnf("[DocumentStore] 用户 %s 尝试访问不属于自己的文档 %s", userID, documentID)
		return nil, model.NewError(model.KindUnauthorized, "document %s does not belong to the current user", documentID)
	}
	return doc, nil
}

// ListByOwner 列出用户自己的文档，按创建时间倒序。
func (s *DocumentStore) ListByOwner(ctx context.Context, userID string) ([]model.Document, error) {
	return s.repo.FindByOwner(ctx, userID)
}

// UpdateStatus 校验并写入一次状态变更。
func (s *DocumentStore) UpdateStatus(ctx context.Context, documentID string, change model.StatusChange) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()
	return s.updateLocked(ctx, documentID, change)
}

func (s *DocumentStore) updateLocked(ctx context.Context, documentID string, change model.StatusChange) error {
	doc, err := s.Lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if !doc.Status.CanTransitionTo(change.To) {
		return fmt.Errorf("illegal status transition %s -> %s for document %s", doc.Status, change.To, documentID)
	}
	if err := s.repo.UpdateStatus(ctx, documentID, doc.Status, change); err != nil {
		return s.mapRepoErr(documentID, err)
	}
	log.Infof("[DocumentStore] 文档 %s 状态 %s -> %s", documentID, doc.Status, change.To)
	s.publish(ctx, documentID)
	return nil
}

// Advance 前进到下一阶段。
func (s *DocumentStore) Advance(ctx context.Context, documentID string, to model.DocumentStatus) error {
	return s.UpdateStatus(ctx, documentID, model.StatusChange{To: to})
}

// Fail 把文档标记为失败；已处于终态时不做任何事。
func (s *DocumentStore) Fail(ctx context.Context, documentID string, kind model.ErrorKind, detail string) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()
	doc, err := s.Lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		log.Warnf("[DocumentStore] 文档 %s 已处于终态 %s，忽略失败标记 (%s)", documentID, doc.Status, kind)
		return nil
	}
	return s.updateLocked(ctx, documentID, model.StatusChange{
		To:            model.StatusFailed,
		FailureReason: kind,
		ErrorDetail:   detail,
	})
}

// Finalize 写入全部片段并把文档标记为 indexed。
// 在文档锁内完成，删除操作无法与之交错；状态写入失败时回滚已写入的片段。
func (s *DocumentStore) Finalize(ctx context.Context, documentID string, passages []model.Passage) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	doc, err := s.Lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != model.StatusEmbedding {
		return fmt.Errorf("document %s is %s, expected %s", documentID, doc.Status, model.StatusEmbedding)
	}
	if err := s.index.Insert(ctx, documentID, passages); err != nil {
		return fmt.Errorf("写入向量索引失败: %w", err)
	}
	err = s.repo.UpdateStatus(ctx, documentID, model.StatusEmbedding, model.StatusChange{
		To:         model.StatusIndexed,
		ChunkCount: len(passages),
	})
	if err != nil {
		if delErr := s.index.Delete(context.Background(), documentID); delErr != nil {
			log.Error("[DocumentStore] 回滚索引片段失败", delErr)
		}
		return s.mapRepoErr(documentID, err)
	}
	log.Infof("[DocumentStore] 文档 %s 已完成索引, 片段数: %d", documentID, len(passages))
	s.publish(ctx, documentID)
	return nil
}

// Delete 删除用户自己的文档：取消处理、删除索引片段、原始文件和记录。
func (s *DocumentStore) Delete(ctx context.Context, documentID, userID string) error {
	doc, err := s.Get(ctx, documentID, userID)
	if err != nil {
		return err
	}

	s.hookMu.Lock()
	hooks := append([]func(string){}, s.onDelete...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(documentID)
	}

	unlock := s.locks.Lock(documentID)
	defer unlock()

	if err := s.index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("删除索引片段失败: %w", err)
	}
	if doc.ObjectKey != "" {
		if err := s.objects.Remove(ctx, doc.ObjectKey); err != nil {
			log.Warnf("[DocumentStore] 删除原始文件失败, key: %s, err: %v", doc.ObjectKey, err)
		}
	}
	if err := s.repo.Delete(ctx, documentID); err != nil {
		return s.mapRepoErr(documentID, err)
	}
	log.Infof("[DocumentStore] 文档 %s 已删除", documentID)
	s.closeWatchers(documentID)
	return nil
}

// Watch 订阅文档状态变化。通道只保留最新的一次快照；文档删除后通道关闭。
func (s *DocumentStore) Watch(documentID string) (<-chan model.Document, func()) {
	ch := make(chan model.Document, 1)
	s.watchMu.Lock()
	set, ok := s.watchers[documentID]
	if !ok {
		set = make(map[chan model.Document]struct{})
		s.watchers[documentID] = set
	}
	set[ch] = struct{}{}
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if set, ok := s.watchers[documentID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(s.watchers, documentID)
				}
			}
		})
	}
	return ch, cancel
}

func (s *DocumentStore) publish(ctx context.Context, documentID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	set := s.watchers[documentID]
	if len(set) == 0 {
		return
	}
	doc, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		return
	}
	for ch := range set {
		// 丢弃尚未被读取的旧快照
		select {
		case <-ch:
		default:
		}
		ch <- *doc
	}
}

func (s *DocumentStore) closeWatchers(documentID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers[documentID] {
		close(ch)
	}
	delete(s.watchers, documentID)
}
