// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finreport-qa/internal/config"
	"finreport-qa/internal/model"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务遇到基础设施错误时的最大处理次数。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestionTask) error
	Abandon(ctx context.Context, task tasks.IngestionTask, cause error)
}

// AttemptCounter 记录任务的失败次数，进程重启后仍然有效。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type redisAttemptCounter struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 使用 Redis INCR 计数，24 小时过期。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttemptCounter{rdb: rdb}
}

func (c *redisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (c *redisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func attemptsKey(documentID string) string {
	return fmt.Sprintf("kafka:attempts:%s", documentID)
}

func brokers(cfg config.KafkaConfig) []string {
	out := make([]string, 0)
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 发送摄取任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个摄取任务到 Kafka，以文档 ID 作为 key 保证同一文档落在同一分区。
func (p *Producer) Dispatch(ctx context.Context, task tasks.IngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理摄取任务，直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到停止信号")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			time.Sleep(time.Second)
			continue
		}

		log.Infof("收到 Kafka 消息: partition %d offset %d", m.Partition, m.Offset)
		if !handleMessage(ctx, m.Value, processor, counter) {
			// 停机中，不提交 offset，下次启动重新消费
			return
		}
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 处理一条消息，返回 false 表示应在不提交 offset 的情况下停止。
// 基础设施错误在本地重试，最多 maxAttempts 次（计数保存在 Redis 中）。
func handleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter) bool {
	var task tasks.IngestionTask
	if err := json.Unmarshal(value, &task); err != nil || task.DocumentID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	key := attemptsKey(task.DocumentID)
	backoff := time.Second
	for {
		log.Infof("开始处理摄取任务: DocumentID=%s, FileName=%s", task.DocumentID, task.FileName)
		err := processor.Process(ctx, task)
		if err == nil {
			if counter != nil {
				_ = counter.Reset(context.Background(), key)
			}
			return true
		}
		if model.KindOf(err) == model.KindAlreadyProcessing {
			log.Infof("文档 %s 已由其他消费者处理，确认消息", task.DocumentID)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		var attempts int64 = maxAttempts
		if counter != nil {
			n, incErr := counter.Incr(context.Background(), key)
			if incErr == nil {
				attempts = n
			} else {
				log.Error("记录任务失败次数出错", incErr)
			}
		}
		if attempts >= maxAttempts {
			log.Errorf("摄取任务多次失败(>=%d)，标记失败并提交 offset: DocumentID=%s, Error: %v", maxAttempts, task.DocumentID, err)
			processor.Abandon(context.Background(), task, err)
			if counter != nil {
				_ = counter.Reset(context.Background(), key)
			}
			return true
		}

		log.Warnf("摄取任务失败，第 %d 次，%s 后重试: DocumentID=%s, Error: %v", attempts, backoff, task.DocumentID, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
