package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Zilliz    ZillizConfig
	Neo4j     Neo4jConfig
	LLM       LLMConfig
	Scraper   ScraperConfig
	Relevance RelevanceConfig
	Discovery DiscoveryConfig
	Queue     QueueConfig
	Embedding EmbeddingConfig
	Analysis  AnalysisConfig
	Feeds     FeedsConfig
	Schedule  ScheduleConfig
	Logging   LoggingConfig
	Websites  []WebsiteSeed
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	RateLimit      int
	AllowedOrigins []string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL time.Duration
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type ScraperConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	TimeoutSec int
	MapLimit   int
	UserAgent  string
}

type RelevanceConfig struct {
	URLKeywords     []string
	ContentKeywords []string
}

type DiscoveryConfig struct {
	ExistenceBatchSize int
}

type QueueConfig struct {
	BatchSize   int
	MaxAttempts int
	StaleAfter  time.Duration
}

type EmbeddingConfig struct {
	ChunkSize    int
	OverlapRatio float64
	Delay        time.Duration
	BatchLimit   int
}

type AnalysisConfig struct {
	HoursBack           int
	SimilarityThreshold float64
	ContentLimit        int
}

type FeedsConfig struct {
	Enabled      bool
	ItemsPerFeed int
	TimeoutSec   int
	TitleOnly    bool
	Sources      []FeedSeed
}

type ScheduleConfig struct {
	Enabled  bool
	Discover time.Duration
	Scrape   time.Duration
	Embed    time.Duration
	Analyze  time.Duration
	Feeds    time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type WebsiteSeed struct {
	URL             string
	Name            string
	Description     string
	Category        string
	Active          bool
	ScrapingEnabled bool
}

type FeedSeed struct {
	URL         string
	Name        string
	Description string
	Category    string
	Active      bool
}

// ConfigError marks a configuration problem that must abort the invocation
// before any work is attempted.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/newsprism")
	}

	v.SetEnvPrefix("NEWSPRISM")
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

	return &config, nil
}

// Validate reports missing credentials for the capabilities a stage needs.
func (c *Config) Validate(needsLLM, needsScraper bool) error {
	if needsLLM && c.LLM.APIKey == "" {
		return &ConfigError{Field: "llm.apiKey", Reason: "is required"}
	}
	if needsScraper {
		switch c.Scraper.Provider {
		case "firecrawl":
			if c.Scraper.APIKey == "" {
				return &ConfigError{Field: "scraper.apiKey", Reason: "is required for the firecrawl provider"}
			}
		case "direct":
		default:
			return &ConfigError{Field: "scraper.provider", Reason: fmt.Sprintf("has unknown value %q", c.Scraper.Provider)}
		}
	}
	if c.Queue.MaxAttempts <= 0 {
		return &ConfigError{Field: "queue.maxAttempts", Reason: "must be positive"}
	}
	if c.Embedding.ChunkSize <= 0 {
		return &ConfigError{Field: "embedding.chunkSize", Reason: "must be positive"}
	}
	if c.Embedding.OverlapRatio < 0 || c.Embedding.OverlapRatio >= 1 {
		return &ConfigError{Field: "embedding.overlapRatio", Reason: "must be in [0,1)"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.rateLimit", 30)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("sqlite.path", "./data/newsprism.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", "168h")

	v.SetDefault("zilliz.enabled", false)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "article_chunks")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 2000)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("scraper.provider", "firecrawl")
	v.SetDefault("scraper.apiKey", "")
	v.SetDefault("scraper.baseURL", "https://api.firecrawl.dev")
	v.SetDefault("scraper.timeoutSec", 60)
	v.SetDefault("scraper.mapLimit", 2000)
	v.SetDefault("scraper.userAgent", "Mozilla/5.0 (compatible; NewsPrism/1.0)")

	v.SetDefault("relevance.urlKeywords", []string{})
	v.SetDefault("relevance.contentKeywords", []string{})

	v.SetDefault("discovery.existenceBatchSize", 100)

	v.SetDefault("queue.batchSize", 3)
	v.SetDefault("queue.maxAttempts", 3)
	v.SetDefault("queue.staleAfter", "15m")

	v.SetDefault("embedding.chunkSize", 150)
	v.SetDefault("embedding.overlapRatio", 0.2)
	v.SetDefault("embedding.delay", "100ms")
	v.SetDefault("embedding.batchLimit", 10)

	v.SetDefault("analysis.hoursBack", 12)
	v.SetDefault("analysis.similarityThreshold", 0.5)
	v.SetDefault("analysis.contentLimit", 2000)

	v.SetDefault("feeds.enabled", false)
	v.SetDefault("feeds.itemsPerFeed", 5)
	v.SetDefault("feeds.timeoutSec", 20)
	v.SetDefault("feeds.titleOnly", false)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.discover", "6h")
	v.SetDefault("schedule.scrape", "1m")
	v.SetDefault("schedule.embed", "5m")
	v.SetDefault("schedule.analyze", "1h")
	v.SetDefault("schedule.feeds", "30m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
