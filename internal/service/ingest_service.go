package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"finreport-qa/internal/model"
	"finreport-qa/internal/pipeline"
	"finreport-qa/pkg/extractor"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/storage"
	"finreport-qa/pkg/tasks"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// IngestService 接收上传的文件并把它交给摄取流水线。
type IngestService interface {
	// Ingest 登记文档并派发摄取任务。异步模式下返回 pending 文档，同步模式下返回最终状态。
	Ingest(ctx context.Context, data []byte, fileName, ownerID string) (*model.Document, error)
	// Resume 重新派发一个尚未结束的文档，例如进程在处理中途退出后。
	Resume(ctx context.Context, documentID, userID string) (*model.Document, error)
}

type ingestService struct {
	store       *DocumentStore
	objects     storage.ObjectStore
	dispatcher  pipeline.Dispatcher
	maxFileSize int64
	sync        bool
}

// NewIngestService 创建摄取服务。sync 为 true 时 dispatcher 应是同步执行器。
func NewIngestService(store *DocumentStore, objects storage.ObjectStore, dispatcher pipeline.Dispatcher, maxFileSize int64, sync bool) IngestService {
	return &ingestService{
		store:       store,
		objects:     objects,
		dispatcher:  dispatcher,
		maxFileSize: maxFileSize,
		sync:        sync,
	}
}

func (s *ingestService) Ingest(ctx context.Context, data []byte, fileName, ownerID string) (*model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, model.NewError(model.KindUnauthorized, "owner id is required")
	}
	// 前置校验，失败时不创建任何文档
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, model.NewError(model.KindFileTooLarge, "file is %d bytes, limit is %d", len(data), s.maxFileSize)
	}
	if !extractor.HasPDFHeader(data) {
		return nil, model.NewError(model.KindUnsupportedFormat, "file %q is not a PDF", fileName)
	}

	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "document.pdf"
	}
	sum := blake2b.Sum256(data)
	doc := &model.Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		FileName:    fileName,
		FileSize:    int64(len(data)),
		ContentHash: hex.EncodeToString(sum[:]),
	}
	doc.ObjectKey = tasks.ObjectKeyFor(ownerID, doc.ID)

	log.Infof("[IngestService] 步骤1: 保存原始文件, DocumentID: %s, Object: %s", doc.ID, doc.ObjectKey)
	if err := s.objects.Put(ctx, doc.ObjectKey, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	log.Infof("[IngestService] 步骤2: 登记文档, DocumentID: %s", doc.ID)
	if err := s.store.Create(ctx, doc); err != nil {
		if rmErr := s.objects.Remove(context.Background(), doc.ObjectKey); rmErr != nil {
			log.Warnf("[IngestService] 清理原始文件失败: %v", rmErr)
		}
		return nil, err
	}

	log.Infof("[IngestService] 步骤3: 派发摄取任务, DocumentID: %s", doc.ID)
	if err := s.dispatch(ctx, doc); err != nil {
		return nil, err
	}
	if !s.sync {
		return doc, nil
	}
	return s.store.Lookup(ctx, doc.ID)
}

func (s *ingestService) Resume(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.store.Get(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		log.Infof("[IngestService] 文档 %s 已处于终态 %s，无需重新派发", doc.ID, doc.Status)
		return doc, nil
	}
	log.Infof("[IngestService] 重新派发文档 %s, 当前状态: %s", doc.ID, doc.Status)
	if err := s.dispatch(ctx, doc); err != nil {
		return nil, err
	}
	if !s.sync {
		return doc, nil
	}
	return s.store.Lookup(ctx, doc.ID)
}

func (s *ingestService) dispatch(ctx context.Context, doc *model.Document) error {
	task := tasks.IngestionTask{
		DocumentID: doc.ID,
		ObjectKey:  doc.ObjectKey,
		FileName:   doc.FileName,
		OwnerID:    doc.OwnerID,
	}
	err := s.dispatcher.Dispatch(ctx, task)
	if err == nil {
		return nil
	}
	if model.KindOf(err) == model.KindAlreadyProcessing {
		return err
	}
	if s.sync {
		// 同步执行器已经把文档标记为失败
		return fmt.Errorf("摄取文档 %s 失败: %w", doc.ID, err)
	}
	log.Errorf("[IngestService] 派发摄取任务失败, DocumentID: %s, err: %v", doc.ID, err)
	if failErr := s.store.Fail(context.Background(), doc.ID, model.KindInternal, err.Error()); failErr != nil && !errors.Is(failErr, model.ErrDocumentNotFound) {
		log.Error("[IngestService] 标记文档失败状态出错", failErr)
	}
	return fmt.Errorf("派发摄取任务失败: %w", err)
}
