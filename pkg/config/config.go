// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Indexer, Search, Embedding, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	PageRank  PageRankConfig  `yaml:"pagerank"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings. Kafka transport is
// optional: with no brokers configured, crawlers must submit pages through
// the HTTP ingestion API.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PageIngest    string `yaml:"pageIngest"`
	IndexComplete string `yaml:"indexComplete"`
}

// Enabled reports whether Kafka transport is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// IndexerConfig controls the ingestion job queue and worker pool.
type IndexerConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batchSize"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	LeaseDuration time.Duration `yaml:"leaseDuration"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryBase     time.Duration `yaml:"retryBase"`
	RetryMax      time.Duration `yaml:"retryMax"`
}

// SearchConfig controls query execution limits and ranking parameters.
type SearchConfig struct {
	MaxResults   int     `yaml:"maxResults"`
	DefaultLimit int     `yaml:"defaultLimit"`
	RRFK         int     `yaml:"rrfK"`
	FetchFactor  int     `yaml:"fetchFactor"`
	BM25K1       float64 `yaml:"bm25K1"`
	BM25B        float64 `yaml:"bm25B"`
	TitleBoost   float64 `yaml:"titleBoost"`
	// TitleStatsShared scores title postings against the body statistics
	// instead of keeping separate title df/avgdl.
	TitleStatsShared bool    `yaml:"titleStatsShared"`
	PageRankWeight   float64 `yaml:"pagerankWeight"`
}

// EmbeddingConfig holds the external embedding provider settings. An empty
// endpoint disables vector indexing and vector search entirely.
type EmbeddingConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxChars   int           `yaml:"maxChars"`
	Refresh    time.Duration `yaml:"refresh"`
}

// Enabled reports whether an embedding provider is configured.
func (e EmbeddingConfig) Enabled() bool {
	return e.Endpoint != ""
}

// PageRankConfig controls the batch PageRank recomputation.
type PageRankConfig struct {
	Damping        float64       `yaml:"damping"`
	Epsilon        float64       `yaml:"epsilon"`
	MaxIterations  int           `yaml:"maxIterations"`
	Interval       time.Duration `yaml:"interval"`
	DomainInterval time.Duration `yaml:"domainInterval"`
	DefaultRank    float64       `yaml:"defaultRank"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "mizuchi",
			User:            "mizuchi",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "mizuchi-indexer",
			Topics: KafkaTopics{
				PageIngest:    "page-ingest",
				IndexComplete: "index-complete",
			},
		},
		Indexer: IndexerConfig{
			Workers:       4,
			BatchSize:     10,
			PollInterval:  500 * time.Millisecond,
			LeaseDuration: 60 * time.Second,
			MaxRetries:    5,
			RetryBase:     5 * time.Second,
			RetryMax:      30 * time.Minute,
		},
		Search: SearchConfig{
			MaxResults:       100,
			DefaultLimit:     10,
			RRFK:             60,
			FetchFactor:      3,
			BM25K1:           1.2,
			BM25B:            0.75,
			TitleBoost:       3.0,
			TitleStatsShared: false,
			PageRankWeight:   0.5,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
			MaxChars:   30000,
			Refresh:    5 * time.Minute,
		},
		PageRank: PageRankConfig{
			Damping:        0.85,
			Epsilon:        1e-6,
			MaxIterations:  20,
			Interval:       6 * time.Hour,
			DomainInterval: time.Hour,
			DefaultRank:    0.15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MZ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MZ_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MZ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MZ_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("MZ_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("MZ_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("MZ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MZ_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("MZ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MZ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MZ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MZ_INDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Indexer.Workers = n
		}
	}
	if v := os.Getenv("MZ_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("MZ_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MZ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MZ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
