// Package pipeline 定义了文档摄取的核心流程：校验、提取、切分、向量化、入库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"finreport-qa/internal/model"
	"finreport-qa/internal/repository"
	"finreport-qa/pkg/embedding"
	"finreport-qa/pkg/extractor"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/retry"
	"finreport-qa/pkg/storage"
	"finreport-qa/pkg/tasks"

	"golang.org/x/sync/errgroup"
)

// DocumentStore 是流水线对文档存储的最小依赖。
// 文档不存在时各方法返回 model.ErrDocumentNotFound 类别的错误。
type DocumentStore interface {
	Lookup(ctx context.Context, documentID string) (*model.Document, error)
	Advance(ctx context.Context, documentID string, to model.DocumentStatus) error
	Fail(ctx context.Context, documentID string, kind model.ErrorKind, detail string) error
	Finalize(ctx context.Context, documentID string, passages []model.Passage) error
}

// Options 是流水线的可调参数。
type Options struct {
	MaxFileSize      int64
	ExtractTimeout   time.Duration
	EmbedConcurrency int
	EmbedPolicy      retry.Policy
	// LockRefresh 是续期摄取锁的间隔，应明显短于锁的 TTL；为 0 时不续期。
	LockRefresh time.Duration
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	store     DocumentStore
	objects   storage.ObjectStore
	extractor extractor.Extractor
	embedder  embedding.Client
	chunker   *Chunker
	lock      repository.IngestLock
	opts      Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store DocumentStore,
	objects storage.ObjectStore,
	ext extractor.Extractor,
	embedder embedding.Client,
	chunker *Chunker,
	lock repository.IngestLock,
	opts Options,
) *Processor {
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 4
	}
	if opts.EmbedPolicy.MaxAttempts <= 0 {
		opts.EmbedPolicy.MaxAttempts = 3
	}
	return &Processor{
		store:     store,
		objects:   objects,
		extractor: ext,
		embedder:  embedder,
		chunker:   chunker,
		lock:      lock,
		opts:      opts,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Cancel 取消文档正在进行的处理（若有）。删除文档时调用。
func (p *Processor) Cancel(documentID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[documentID]
	p.mu.Unlock()
	if ok {
		log.Infof("[Processor] 取消文档 %s 的处理", documentID)
		cancel()
	}
}

func (p *Processor) register(documentID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[documentID] = cancel
	p.mu.Unlock()
}

func (p *Processor) unregister(documentID string) {
	p.mu.Lock()
	delete(p.cancels, documentID)
	p.mu.Unlock()
}

// Process 是文件处理的主函数。
// 可校验的失败会记录到文档并返回 nil；只有基础设施错误会返回，由调用方决定是否重试。
func (p *Processor) Process(ctx context.Context, task tasks.IngestionTask) error {
	token, acquired, err := p.lock.Acquire(ctx, task.DocumentID)
	if err != nil {
		return err
	}
	if !acquired {
		log.Warnf("[Processor] 文档 %s 正在处理中，拒绝重复执行", task.DocumentID)
		return model.NewError(model.KindAlreadyProcessing, "document %s is already being processed", task.DocumentID)
	}
	defer func() {
		if err := p.lock.Release(context.Background(), task.DocumentID, token); err != nil {
			log.Error("[Processor] 释放摄取锁失败", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	p.register(task.DocumentID, cancel)
	defer func() {
		p.unregister(task.DocumentID)
		cancel()
	}()
	lease := p.keepLock(runCtx, cancel, task.DocumentID, token)
	defer lease.stop()

	doc, err := p.store.Lookup(runCtx, task.DocumentID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		log.Infof("[Processor] 文档 %s 已不存在，跳过", task.DocumentID)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		log.Infof("[Processor] 文档 %s 已处于终态 %s，跳过", doc.ID, doc.Status)
		return nil
	}

	log.Infof("[Processor] 开始处理文件, DocumentID: %s, FileName: %s, OwnerID: %s", doc.ID, doc.FileName, doc.OwnerID)
	start := time.Now()
	runErr := p.run(runCtx, doc, task)
	lease.stop()
	if runErr != nil && lease.lost.Load() {
		log.Warnf("[Processor] 文档 %s 的摄取锁已被其他运行接管，本次结果丢弃: %v", doc.ID, runErr)
		return nil
	}
	return p.finish(ctx, doc.ID, runErr, time.Since(start))
}

type lockLease struct {
	lost atomic.Bool
	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func (l *lockLease) stop() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

// keepLock 定期续期摄取锁。锁丢失时取消本次运行，保证同一文档不会有两次运行同时写入。
func (p *Processor) keepLock(ctx context.Context, cancel context.CancelFunc, documentID, token string) *lockLease {
	lease := &lockLease{done: make(chan struct{})}
	if p.opts.LockRefresh <= 0 {
		return lease
	}
	lease.wg.Add(1)
	go func() {
		defer lease.wg.Done()
		ticker := time.NewTicker(p.opts.LockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-lease.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := p.lock.Refresh(ctx, documentID, token)
				if err != nil {
					log.Warnf("[Processor] 续期文档 %s 的摄取锁失败: %v", documentID, err)
					continue
				}
				if !held {
					log.Errorf("[Processor] 文档 %s 的摄取锁已丢失，取消本次运行", documentID)
					lease.lost.Store(true)
					cancel()
					return
				}
			}
		}
	}()
	return lease
}

// Abandon 在重试耗尽后把文档标记为失败。
func (p *Processor) Abandon(ctx context.Context, task tasks.IngestionTask, cause error) {
	err := p.store.Fail(ctx, task.DocumentID, model.KindInternal, cause.Error())
	if err != nil && !errors.Is(err, model.ErrDocumentNotFound) {
		log.Error("[Processor] 标记文档失败状态出错", err)
	}
}

func (p *Processor) finish(ctx context.Context, documentID string, runErr error, elapsed time.Duration) error {
	if runErr == nil {
		log.Infof("[Processor] 文件处理成功完成, DocumentID: %s, 耗时: %s", documentID, elapsed)
		return nil
	}
	if errors.Is(runErr, model.ErrDocumentNotFound) {
		log.Infof("[Processor] 文档 %s 在处理过程中被删除，终止", documentID)
		return nil
	}
	if errors.Is(runErr, context.Canceled) && ctx.Err() == nil {
		// 运行上下文被单独取消，只可能来自删除
		if _, err := p.store.Lookup(ctx, documentID); errors.Is(err, model.ErrDocumentNotFound) {
			log.Infof("[Processor] 文档 %s 已删除，处理已取消", documentID)
			return nil
		}
	}

	var appErr *model.AppError
	if errors.As(runErr, &appErr) && appErr.Kind != model.KindInternal {
		log.Warnf("[Processor] 文档 %s 处理失败: %v", documentID, runErr)
		err := p.store.Fail(ctx, documentID, appErr.Kind, model.DetailOf(runErr))
		if err != nil && !errors.Is(err, model.ErrDocumentNotFound) {
			return err
		}
		return nil
	}
	log.Errorf("[Processor] 文档 %s 处理出现基础设施错误: %v", documentID, runErr)
	return runErr
}

// advance 只在当前状态落后时前进，重新执行时不会回退状态。
func (p *Processor) advance(ctx context.Context, doc *model.Document, to model.DocumentStatus) error {
	if !doc.Status.Before(to) {
		return nil
	}
	if err := p.store.Advance(ctx, doc.ID, to); err != nil {
		return err
	}
	doc.Status = to
	return nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document, task tasks.IngestionTask) error {
	// 1. 加载并校验文件
	if err := p.advance(ctx, doc, model.StatusExtracting); err != nil {
		return err
	}
	key := task.ObjectKey
	if key == "" {
		key = doc.ObjectKey
	}
	log.Infof("[Processor] 步骤1: 从对象存储读取文件, Object: %s", key)
	data, err := p.objects.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return model.WrapError(model.KindExtractionFailure, err, "原始文件不存在")
	}
	if err != nil {
		return fmt.Errorf("读取原始文件失败: %w", err)
	}
	if err := extractor.CheckPDF(data, p.opts.MaxFileSize); err != nil {
		if errors.Is(err, extractor.ErrTooLarge) {
			return model.WrapError(model.KindFileTooLarge, err, fmt.Sprintf("文件大小 %d 字节超过上限 %d", len(data), p.opts.MaxFileSize))
		}
		return model.WrapError(model.KindUnsupportedFormat, err, "不是有效的 PDF 文件")
	}
	log.Infof("[Processor] 步骤1: 文件校验通过, 大小: %d 字节", len(data))

	// 2. 提取文本
	log.Info("[Processor] 步骤2: 提取文本内容")
	pages, err := p.extract(ctx, data, doc.FileName)
	if err != nil {
		return err
	}
	text := CleanText(extractor.JoinPages(pages))
	if text == "" {
		return model.NewError(model.KindEmptyDocument, "PDF 中没有可提取的文本")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 页数: %d, 内容长度: %d 字符", len(pages), utf8.RuneCountInString(text))
	if err := p.advance(ctx, doc, model.StatusChunking); err != nil {
		return err
	}

	// 3. 文本切块
	passages := p.chunker.Chunk(doc.ID, text)
	if len(passages) == 0 {
		return model.NewError(model.KindEmptyDocument, "未生成任何文本分块")
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(passages))
	if err := p.advance(ctx, doc, model.StatusEmbedding); err != nil {
		return err
	}

	// 4. 向量化
	log.Infof("[Processor] 步骤4: 开始向量化, 并发数: %d", p.opts.EmbedConcurrency)
	if err := p.embedAll(ctx, passages); err != nil {
		return err
	}

	// 5. 写入索引并标记完成
	log.Info("[Processor] 步骤5: 写入向量索引")
	return p.store.Finalize(ctx, doc.ID, passages)
}

func isAlreadyProcessing(err error) bool {
	return model.KindOf(err) == model.KindAlreadyProcessing
}

type extractResult struct {
	pages []string
	err   error
}

// extract 在独立 goroutine 中运行，超时后即使提取器不响应 ctx 也能返回。
func (p *Processor) extract(ctx context.Context, data []byte, fileName string) ([]string, error) {
	extractCtx := ctx
	if p.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, p.opts.ExtractTimeout)
		defer cancel()
	}
	done := make(chan extractResult, 1)
	go func() {
		pages, err := p.extractor.ExtractPages(extractCtx, data, fileName)
		done <- extractResult{pages: pages, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, model.WrapError(model.KindExtractionFailure, res.err, "文本提取失败")
		}
		return res.pages, nil
	case <-extractCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.WrapError(model.KindExtractionFailure, extractCtx.Err(), fmt.Sprintf("文本提取超时 (%s)", p.opts.ExtractTimeout))
	}
}

// embedAll 并发向量化所有片段；任一失败则整批作废，按策略整体重试。
func (p *Processor) embedAll(ctx context.Context, passages []model.Passage) error {
	err := retry.Do(ctx, p.opts.EmbedPolicy, func(ctx context.Context, attempt int) error {
		vectors := make([][]float32, len(passages))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.EmbedConcurrency)
		for i := range passages {
			i := i
			g.Go(func() error {
				vec, err := p.embedder.CreateEmbedding(gctx, passages[i].Text)
				if err != nil {
					return fmt.Errorf("分块 %d 向量化失败: %w", i, err)
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			log.Warnf("[Processor] 第 %d 次向量化失败: %v", attempt, err)
			if embedding.Permanent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		for i := range passages {
			passages[i].Vector = vectors[i]
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return model.WrapError(model.KindEmbeddingServiceError, err, "向量化服务调用失败")
}
