// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Index         IndexConfig         `mapstructure:"index"`
	Chunk         ChunkConfig         `mapstructure:"chunk"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
// Driver 为 mysql 或 memory；Redis.Addr 为空时锁与会话历史使用内存实现。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。令牌由外部认证服务签发，这里只做校验。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ExtractorConfig 选择 PDF 文本提取实现：tabula（进程内）或 tika。
type ExtractorConfig struct {
	Provider string `mapstructure:"provider"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PostgresConfig 存储 pgvector 索引后端的配置。
type PostgresConfig struct {
	DSN       string `mapstructure:"dsn"`
	TableName string `mapstructure:"table_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// StorageConfig 选择上传文件的存储位置：minio 或 memory。
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // openai | ollama
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限
	Burst      int           `mapstructure:"burst"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"` // openai | ollama
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IndexConfig 选择向量索引后端：memory、elasticsearch 或 pgvector。
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
}

// ChunkConfig 配置切分窗口，单位为字符（rune）。
type ChunkConfig struct {
	Size      int `mapstructure:"size"`
	Overlap   int `mapstructure:"overlap"`
	MinLength int `mapstructure:"min_length"`
}

// IngestionConfig 配置摄取流水线。
type IngestionConfig struct {
	Mode                string        `mapstructure:"mode"`  // async | sync
	Queue               string        `mapstructure:"queue"` // kafka | local
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	MaxFileSize         int64         `mapstructure:"max_file_size"`
	ExtractTimeout      time.Duration `mapstructure:"extract_timeout"`
	EmbedConcurrency    int           `mapstructure:"embed_concurrency"`
	EmbedMaxAttempts    int           `mapstructure:"embed_max_attempts"`
	EmbedBackoffInitial time.Duration `mapstructure:"embed_backoff_initial"`
	EmbedBackoffMax     time.Duration `mapstructure:"embed_backoff_max"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

// RAGConfig 配置检索与回答。
type RAGConfig struct {
	TopK              int             `mapstructure:"top_k"`
	MinScore          float64         `mapstructure:"min_score"`
	GenerationBackoff time.Duration   `mapstructure:"generation_backoff"`
	HistoryLimit      int             `mapstructure:"history_limit"`
	HistoryTTL        time.Duration   `mapstructure:"history_ttl"`
	Prompt            RAGPromptConfig `mapstructure:"prompt"`
}

// RAGPromptConfig 配置系统提示与上下文包裹格式。
type RAGPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// setDefaults 为每一项配置注册默认值；AutomaticEnv 只对已注册的键生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "document-ingestion")
	v.SetDefault("kafka.group_id", "finqa-ingestion")

	v.SetDefault("tika.server_url", "http://localhost:9998")
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("extractor.provider", "tabula")

	v.SetDefault("elasticsearch.addresses", "")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "finqa_passages")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table_name", "passages")

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "finqa-uploads")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.rate_limit", 0)
	v.SetDefault("embedding.burst", 1)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 0.0)
	v.SetDefault("llm.generation.max_tokens", 1000)

	v.SetDefault("index.backend", "memory")

	v.SetDefault("chunk.size", 1000)
	v.SetDefault("chunk.overlap", 100)
	v.SetDefault("chunk.min_length", 20)

	v.SetDefault("ingestion.mode", "async")
	v.SetDefault("ingestion.queue", "local")
	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.queue_size", 64)
	v.SetDefault("ingestion.max_file_size", 10*1024*1024)
	v.SetDefault("ingestion.extract_timeout", 2*time.Minute)
	v.SetDefault("ingestion.embed_concurrency", 4)
	v.SetDefault("ingestion.embed_max_attempts", 3)
	v.SetDefault("ingestion.embed_backoff_initial", time.Second)
	v.SetDefault("ingestion.embed_backoff_max", 10*time.Second)
	v.SetDefault("ingestion.lock_ttl", 15*time.Minute)

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.min_score", 0.0)
	v.SetDefault("rag.generation_backoff", time.Second)
	v.SetDefault("rag.history_limit", 20)
	v.SetDefault("rag.history_ttl", 7*24*time.Hour)
	v.SetDefault("rag.prompt.rules", DefaultPromptRules)
	v.SetDefault("rag.prompt.ref_start", DefaultRefStart)
	v.SetDefault("rag.prompt.ref_end", DefaultRefEnd)
	v.SetDefault("rag.prompt.no_result_text", DefaultNoResultText)
}

// Load 读取配置文件（可以不存在）、.env 以及 FINQA_ 前缀的环境变量。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FINQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// 提示词的默认值。配置留空时问答服务同样回退到这些值。
const (
	DefaultPromptRules = "你是一名财报分析助手。只能根据参考资料回答问题，不得使用资料以外的知识。" +
		"如果参考资料不足以回答，请直接说明信息不足。回答时用 [编号] 标注引用的资料。"
	DefaultRefStart     = "<<REF>>"
	DefaultRefEnd       = "<<END>>"
	DefaultNoResultText = "I don't have enough information in this document to answer that question."
)

// Validate 检查各项配置之间的约束。
func (c Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size 必须大于 0")
	}
	// 窗口每次至少前进 size/2，超出的 overlap 会被切分器截断
	if c.Chunk.Overlap < 0 || (c.Chunk.Overlap > 0 && c.Chunk.Overlap >= c.Chunk.Size/2) {
		return fmt.Errorf("chunk.overlap 必须在 [0, chunk.size/2) 内")
	}
	if c.Chunk.MinLength < 0 || c.Chunk.MinLength > c.Chunk.Size {
		return fmt.Errorf("chunk.min_length 必须在 [0, chunk.size] 内")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions 必须大于 0")
	}
	if c.Ingestion.MaxFileSize <= 0 {
		return fmt.Errorf("ingestion.max_file_size 必须大于 0")
	}
	switch c.Ingestion.Mode {
	case "async", "sync":
	default:
		return fmt.Errorf("未知的 ingestion.mode: %q", c.Ingestion.Mode)
	}
	switch c.Index.Backend {
	case "memory", "elasticsearch", "pgvector":
	default:
		return fmt.Errorf("未知的 index.backend: %q", c.Index.Backend)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k 必须大于 0")
	}
	return nil
}
