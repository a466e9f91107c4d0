package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Source      SourceConfig
	Index       IndexConfig
	Query       QueryConfig
	Vector      VectorConfig
	Embedding   EmbeddingConfig
	KV          KVConfig
	ObjectStore ObjectStoreConfig
	LLM         LLMConfig
	Competition CompetitionConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
	AllowOrigins   string
}

type SourceConfig struct {
	URL        string
	TimeoutSec int
	MaxBytes   int64
}

// IndexConfig names the stores the indexer writes to.
type IndexConfig struct {
	VectorIndex    string
	Bucket         string
	StateStore     string
	StateKey       string
	HistoryKey     string
	PublicURLTTL   time.Duration
	LockTTL        time.Duration
	StrictChunking bool
	KeyPrefix      string
}

type QueryConfig struct {
	Limit          int
	Similarity     float64
	ContextResults int
	Model          string
}

type VectorConfig struct {
	Backend string
	Milvus  MilvusConfig
}

type MilvusConfig struct {
	Endpoint  string
	APIKey    string
	VectorDim int
	NList     int
	NProbe    int
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimensions int
}

type KVConfig struct {
	Backend string
	Redis   RedisConfig
	SQLite  SQLiteConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type ObjectStoreConfig struct {
	Backend string
	S3      S3Config
}

type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

// BackendConfig describes one OpenAI-compatible generation endpoint.
type BackendConfig struct {
	Label   string
	APIKey  string
	BaseURL string
	Model   string
}

type CompetitionConfig struct {
	First      BackendConfig
	Second     BackendConfig
	JudgeModel string
}

type RateLimitConfig struct {
	RequestsPerMinute   int
	Burst               int
	TrustClientIDHeader bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docs-agent")

	v.SetEnvPrefix("DOCS_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return errors.New("source.url is required")
	}
	if c.Query.Limit <= 0 {
		return fmt.Errorf("query.limit must be positive, got %d", c.Query.Limit)
	}
	if c.Query.Similarity < 0 || c.Query.Similarity > 1 {
		return fmt.Errorf("query.similarity must be within [0, 1], got %v", c.Query.Similarity)
	}
	if c.Query.ContextResults <= 0 || c.Query.ContextResults > c.Query.Limit {
		return fmt.Errorf("query.contextResults must be within [1, %d], got %d", c.Query.Limit, c.Query.ContextResults)
	}
	if c.Embedding.Provider == "openai" && c.LLM.APIKey == "" {
		return errors.New("llm.apiKey is required for the openai embedding provider")
	}
	if c.Vector.Backend == "milvus" && c.Embedding.Dimensions != c.Vector.Milvus.VectorDim {
		return fmt.Errorf("embedding.dimensions (%d) must match vector.milvus.vectorDim (%d)",
			c.Embedding.Dimensions, c.Vector.Milvus.VectorDim)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLength", 2000)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("source.url", "https://agentuity.com/llms.txt")
	v.SetDefault("source.timeoutSec", 30)
	v.SetDefault("source.maxBytes", 10485760)

	v.SetDefault("index.vectorIndex", "demo-docs-chunks")
	v.SetDefault("index.bucket", "demo-docs")
	v.SetDefault("index.stateStore", "demo-query-history")
	v.SetDefault("index.stateKey", "docs-indexed")
	v.SetDefault("index.historyKey", "query-history")
	v.SetDefault("index.publicURLTTL", time.Hour)
	v.SetDefault("index.lockTTL", 2*time.Minute)
	v.SetDefault("index.strictChunking", false)
	v.SetDefault("index.keyPrefix", "llms")

	v.SetDefault("query.limit", 3)
	v.SetDefault("query.similarity", 0.5)
	v.SetDefault("query.contextResults", 2)
	v.SetDefault("query.model", "gpt-5-nano")

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.apiKey", "")
	v.SetDefault("vector.milvus.vectorDim", 1536)
	v.SetDefault("vector.milvus.nList", 128)
	v.SetDefault("vector.milvus.nProbe", 16)

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)

	v.SetDefault("kv.backend", "memory")
	v.SetDefault("kv.redis.host", "localhost")
	v.SetDefault("kv.redis.port", 6379)
	v.SetDefault("kv.redis.password", "")
	v.SetDefault("kv.redis.db", 0)
	v.SetDefault("kv.sqlite.path", "./data/docs-agent.db")

	v.SetDefault("objectstore.backend", "memory")
	v.SetDefault("objectstore.s3.region", "us-east-1")
	v.SetDefault("objectstore.s3.endpoint", "")
	v.SetDefault("objectstore.s3.accessKeyID", "")
	v.SetDefault("objectstore.s3.secretAccessKey", "")
	v.SetDefault("objectstore.s3.usePathStyle", true)

	// Secrets default to empty so DOCS_AGENT_* environment overrides are picked up.
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-5-nano")
	v.SetDefault("llm.maxTokens", 0)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("competition.first.label", "OpenAI (GPT-5 Nano)")
	v.SetDefault("competition.first.apiKey", "")
	v.SetDefault("competition.first.baseURL", "https://api.openai.com/v1")
	v.SetDefault("competition.first.model", "gpt-5-nano")
	v.SetDefault("competition.second.label", "Google (Gemini 2.0 Flash)")
	v.SetDefault("competition.second.apiKey", "")
	v.SetDefault("competition.second.baseURL", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("competition.second.model", "gemini-2.0-flash-001")
	v.SetDefault("competition.judgeModel", "gpt-5-nano")

	v.SetDefault("ratelimit.requestsPerMinute", 60)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.trustClientIDHeader", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
