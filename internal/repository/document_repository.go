// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"finreport-qa/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict 表示条件更新时当前状态与预期不符。
	ErrStatusConflict = errors.New("document status changed concurrently")
)

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindByOwner(ctx context.Context, ownerID string) ([]model.Document, error)
	// UpdateStatus 仅当当前状态等于 from 时写入变更，否则返回 ErrStatusConflict。
	UpdateStatus(ctx context.Context, id string, from model.DocumentStatus, change model.StatusChange) error
	Delete(ctx context.Context, id string) error
}

// gormDocumentRepository 是 DocumentRepository 接口的 GORM 实现。
type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 GORM DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

func (r *gormDocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *gormDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) FindByOwner(ctx context.Context, ownerID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// UpdateStatus 使用 WHERE status = from 实现比较并交换。
func (r *gormDocumentRepository) UpdateStatus(ctx context.Context, id string, from model.DocumentStatus, change model.StatusChange) error {
	updates := map[string]interface{}{
		"status":     change.To,
		"updated_at": time.Now(),
	}
	if change.To == model.StatusIndexed {
		updates["chunk_count"] = change.ChunkCount
	}
	if change.To == model.StatusFailed {
		updates["failure_reason"] = change.FailureReason
		updates["error_detail"] = change.ErrorDetail
	}
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *gormDocumentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// memoryDocumentRepository 是进程内实现，用于本地运行和测试。
type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]model.Document
}

// NewMemoryDocumentRepository 创建一个内存版 DocumentRepository。
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{docs: make(map[string]model.Document)}
}

func (r *memoryDocumentRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return errors.New("duplicate document id")
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.docs[doc.ID] = *doc
	return nil
}

func (r *memoryDocumentRepository) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (r *memoryDocumentRepository) FindByOwner(_ context.Context, ownerID string) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]model.Document, 0)
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (r *memoryDocumentRepository) UpdateStatus(_ context.Context, id string, from model.DocumentStatus, change model.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != from {
		return ErrStatusConflict
	}
	doc.Status = change.To
	if change.To == model.StatusIndexed {
		doc.ChunkCount = change.ChunkCount
	}
	if change.To == model.StatusFailed {
		doc.FailureReason = change.FailureReason
		doc.ErrorDetail = change.ErrorDetail
	}
	doc.UpdatedAt = time.Now()
	r.docs[id] = doc
	return nil
}

func (r *memoryDocumentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}
