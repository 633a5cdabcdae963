// Package bootstrap 按配置组装所有组件，服务端和命令行共用。
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finreport-qa/internal/config"
	"finreport-qa/internal/index"
	"finreport-qa/internal/pipeline"
	"finreport-qa/internal/repository"
	"finreport-qa/internal/service"
	"finreport-qa/pkg/database"
	"finreport-qa/pkg/embedding"
	"finreport-qa/pkg/es"
	"finreport-qa/pkg/extractor"
	"finreport-qa/pkg/kafka"
	"finreport-qa/pkg/llm"
	"finreport-qa/pkg/log"
	"finreport-qa/pkg/pdftext"
	"finreport-qa/pkg/retry"
	"finreport-qa/pkg/storage"
	"finreport-qa/pkg/tika"
	"finreport-qa/pkg/token"

	"github.com/go-redis/redis/v8"
)

// App 持有组装好的服务。
type App struct {
	Config        config.Config
	Store         *service.DocumentStore
	Ingest        service.IngestService
	QA            service.QAService
	Conversations service.ConversationService
	JWT           *token.JWTManager
	Processor     *pipeline.Processor

	rdb      *redis.Client
	local    *pipeline.LocalDispatcher
	producer *kafka.Producer
	closers  []func()
	wg       sync.WaitGroup
}

// Build 根据配置创建依赖。外部服务连接失败直接返回错误，不做降级。
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg, JWT: token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)}

	// 1. 数据库与 Redis
	needRedis := cfg.Database.Driver == "mysql" || cfg.Ingestion.Queue == "kafka"
	if needRedis {
		r := cfg.Database.Redis
		if err := database.InitRedis(ctx, r.Addr, r.Password, r.DB); err != nil {
			return nil, err
		}
		app.rdb = database.RDB
		app.closers = append(app.closers, func() { _ = app.rdb.Close() })
	}

	var docRepo repository.DocumentRepository
	switch cfg.Database.Driver {
	case "mysql":
		if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
			return nil, err
		}
		docRepo = repository.NewDocumentRepository(database.DB)
	case "memory":
		docRepo = repository.NewMemoryDocumentRepository()
	default:
		return nil, fmt.Errorf("未知的 database.driver: %q", cfg.Database.Driver)
	}

	var (
		lock        repository.IngestLock
		lockRefresh time.Duration
		convRepo    repository.ConversationRepository
	)
	if app.rdb != nil {
		lock = repository.NewRedisIngestLock(app.rdb, cfg.Ingestion.LockTTL)
		lockRefresh = cfg.Ingestion.LockTTL / 3
		convRepo = repository.NewConversationRepository(app.rdb, cfg.RAG.HistoryLimit, cfg.RAG.HistoryTTL)
	} else {
		lock = repository.NewMemoryIngestLock()
		convRepo = repository.NewMemoryConversationRepository(cfg.RAG.HistoryLimit)
	}

	// 2. 对象存储
	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 3. 模型客户端
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	// 4. 向量索引
	idx, err := app.buildIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 5. 文本提取
	var ext extractor.Extractor
	switch cfg.Extractor.Provider {
	case "tika":
		ext = tika.NewClient(cfg.Tika)
	case "tabula", "":
		ext = pdftext.NewExtractor()
	default:
		return nil, fmt.Errorf("未知的 extractor.provider: %q", cfg.Extractor.Provider)
	}

	// 6. 流水线与服务
	app.Store = service.NewDocumentStore(docRepo, idx, objects)
	app.Processor = pipeline.NewProcessor(
		app.Store, objects, ext, embedder,
		pipeline.NewChunker(cfg.Chunk.Size, cfg.Chunk.Overlap, cfg.Chunk.MinLength),
		lock,
		pipeline.Options{
			MaxFileSize:      cfg.Ingestion.MaxFileSize,
			ExtractTimeout:   cfg.Ingestion.ExtractTimeout,
			EmbedConcurrency: cfg.Ingestion.EmbedConcurrency,
			LockRefresh:      lockRefresh,
			EmbedPolicy: retry.Policy{
				MaxAttempts: cfg.Ingestion.EmbedMaxAttempts,
				Initial:     cfg.Ingestion.EmbedBackoffInitial,
				Max:         cfg.Ingestion.EmbedBackoffMax,
				Multiplier:  2,
			},
		},
	)
	app.Store.OnDelete(app.Processor.Cancel)

	dispatcher, err := app.buildDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	syncMode := cfg.Ingestion.Mode == "sync"
	app.Ingest = service.NewIngestService(app.Store, objects, dispatcher, cfg.Ingestion.MaxFileSize, syncMode)
	app.Conversations = service.NewConversationService(convRepo, app.Store)
	app.QA = service.NewQAService(app.Store, idx, embedder, llmClient, app.Conversations, cfg.RAG, llm.ParamsFromConfig(cfg.LLM.Generation))

	log.Infof("[Bootstrap] 组件初始化完成, driver: %s, index: %s, storage: %s, mode: %s, queue: %s",
		cfg.Database.Driver, cfg.Index.Backend, cfg.Storage.Provider, cfg.Ingestion.Mode, cfg.Ingestion.Queue)
	return app, nil
}

func buildObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Provider {
	case "minio":
		if err := storage.InitMinIO(ctx, cfg.MinIO); err != nil {
			return nil, err
		}
		return storage.NewMinioStore(storage.MinioClient, cfg.MinIO.BucketName), nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的 storage.provider: %q", cfg.Storage.Provider)
	}
}

func (a *App) buildIndex(ctx context.Context, cfg config.Config) (index.Index, error) {
	dims := cfg.Embedding.Dimensions
	switch cfg.Index.Backend {
	case "elasticsearch":
		if err := es.InitES(cfg.Elasticsearch, dims); err != nil {
			return nil, fmt.Errorf("es 初始化失败: %w", err)
		}
		return index.NewESIndex(es.ESClient, cfg.Elasticsearch.IndexName, dims), nil
	case "pgvector":
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return index.NewPGVectorIndex(ctx, pool, cfg.Postgres.TableName, dims)
	default:
		return index.NewMemoryIndex(dims), nil
	}
}

func (a *App) buildDispatcher(cfg config.Config) (pipeline.Dispatcher, error) {
	if cfg.Ingestion.Mode == "sync" {
		return pipeline.NewSyncDispatcher(a.Processor), nil
	}
	switch cfg.Ingestion.Queue {
	case "kafka":
		a.producer = kafka.NewProducer(cfg.Kafka)
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		return a.producer, nil
	case "local", "":
		a.local = pipeline.NewLocalDispatcher(a.Processor, cfg.Ingestion.Workers, cfg.Ingestion.QueueSize)
		return a.local, nil
	default:
		return nil, fmt.Errorf("未知的 ingestion.queue: %q", cfg.Ingestion.Queue)
	}
}

// Start 启动后台消费者：本地工作池或 Kafka 消费者。
func (a *App) Start(ctx context.Context) {
	if a.local != nil {
		a.local.Start(ctx)
	}
	if a.producer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			kafka.StartConsumer(ctx, a.Config.Kafka, a.Processor, kafka.NewRedisAttemptCounter(a.rdb))
		}()
	}
}

// Close 等待后台任务结束并释放连接。调用前应先取消 Start 的 ctx。
func (a *App) Close() {
	if a.local != nil {
		a.local.Close()
	}
	a.wg.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
