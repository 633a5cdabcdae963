package pipeline

import (
	"context"
	"errors"
	"sync"

	"finreport-qa/pkg/log"
	"finreport-qa/pkg/tasks"
)

// Dispatcher 把摄取任务交给执行者。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.IngestionTask) error
}

// ErrQueueClosed 表示本地队列已关闭。
var ErrQueueClosed = errors.New("ingestion queue closed")

// SyncDispatcher 在调用方的 goroutine 中直接执行流水线。
type SyncDispatcher struct {
	processor *Processor
}

// NewSyncDispatcher 创建同步执行器。
func NewSyncDispatcher(p *Processor) *SyncDispatcher {
	return &SyncDispatcher{processor: p}
}

// Dispatch 即使调用方断开也会把流水线执行完，文档不会停留在中间状态。
func (d *SyncDispatcher) Dispatch(ctx context.Context, task tasks.IngestionTask) error {
	err := d.processor.Process(context.WithoutCancel(ctx), task)
	if err != nil && !isAlreadyProcessing(err) {
		d.processor.Abandon(context.Background(), task, err)
	}
	return err
}

// LocalDispatcher 是进程内的有界工作池，不依赖 Kafka。
type LocalDispatcher struct {
	processor *Processor
	queue     chan tasks.IngestionTask
	workers   int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalDispatcher 创建工作池，需要调用 Start 启动。
func NewLocalDispatcher(p *Processor, workers, queueSize int) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &LocalDispatcher{processor: p, queue: make(chan tasks.IngestionTask, queueSize), workers: workers}
}

// Start 启动工作协程，ctx 结束后正在执行的任务会被取消。
func (d *LocalDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			for task := range d.queue {
				if ctx.Err() != nil {
					continue
				}
				err := d.processor.Process(ctx, task)
				if err == nil || isAlreadyProcessing(err) {
					continue
				}
				if ctx.Err() != nil {
					// 停机导致的中断不标记失败，文档保持中间状态，可重新提交
					log.Warnf("[LocalDispatcher] worker %d 停机中断文档 %s", id, task.DocumentID)
					continue
				}
				log.Errorf("[LocalDispatcher] worker %d 处理文档 %s 失败: %v", id, task.DocumentID, err)
				d.processor.Abandon(context.Background(), task, err)
			}
		}(i)
	}
	log.Infof("[LocalDispatcher] 已启动 %d 个 worker", d.workers)
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, task tasks.IngestionTask) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务，并等待队列中的任务处理完。
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
