package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`

	StoreDriver       string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`

	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"20971520"`

	Chunk     ChunkConfig
	Embedding EmbeddingConfig `envPrefix:"EMBEDDING_"`
	LLM       LLMConfig       `envPrefix:"LLM_"`
	Search    SearchConfig    `envPrefix:"SEARCH_"`
	Retry     RetryConfig     `envPrefix:"RETRY_"`
	Loader    LoaderConfig    `envPrefix:"LOADER_"`

	Environment string
}

// ChunkConfig sizes are in words.
type ChunkConfig struct {
	Size    int `env:"CHUNK_SIZE" envDefault:"200"`
	Overlap int `env:"CHUNK_OVERLAP" envDefault:"40"`
}

type EmbeddingConfig struct {
	URL      string        `env:"URL" envDefault:"http://localhost:11434/api/embeddings"`
	Model    string        `env:"MODEL" envDefault:"nomic-embed-text"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

type LLMConfig struct {
	URL     string        `env:"URL"`
	Model   string        `env:"MODEL"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

type SearchConfig struct {
	TopK             int     `env:"TOP_K" envDefault:"5"`
	MinSimilarity    float64 `env:"MIN_SIMILARITY" envDefault:"0.55"`
	MaxContextLength int     `env:"MAX_CONTEXT_LENGTH" envDefault:"20000"`
}

type RetryConfig struct {
	Attempts uint          `env:"ATTEMPTS" envDefault:"3"`
	Delay    time.Duration `env:"DELAY" envDefault:"200ms"`
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"2s"`
}

func (rc RetryConfig) ToRetryOptions() []retry.Option {
	return []retry.Option{
		retry.Attempts(rc.Attempts),
		retry.Delay(rc.Delay),
		retry.MaxDelay(rc.MaxDelay),
		retry.LastErrorOnly(true),
	}
}

type LoaderConfig struct {
	SourceDir       string        `env:"SOURCE_DIR" envDefault:"./data/inbox"`
	ArchiveDir      string        `env:"ARCHIVE_DIR" envDefault:"./data/archive"`
	BadDir          string        `env:"BAD_DIR" envDefault:"./data/bad"`
	MonitoringTime  time.Duration `env:"MONITORING_TIME" envDefault:"5s"`
	DuplicateAction string        `env:"DUPLICATE_ACTION" envDefault:"skip"`
}

// Load reads the .env file selected by the -env flag, then the process environment.
func Load() (*Config, error) {
	envFlag := flag.String("env", "local", "Environment to run (local, prod, or custom)")
	flag.Parse()

	envFile := getEnvFile(*envFlag)
	// A missing file is fine when variables are injected by the platform.
	if err := godotenv.Load(envFile); err != nil {
		fmt.Printf("Warning: could not load %s file (this is ok if env vars are set externally): %v\n", envFile, err)
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	cfg.Environment = *envFlag
	return cfg, nil
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	var errs []string

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver))
	}

	if cfg.MaxUploadSize <= 0 {
		errs = append(errs, fmt.Sprintf("MAX_UPLOAD_SIZE must be positive, got %d", cfg.MaxUploadSize))
	}
	if cfg.Chunk.Size < 1 {
		errs = append(errs, fmt.Sprintf("CHUNK_SIZE must be positive, got %d", cfg.Chunk.Size))
	}
	if cfg.Chunk.Overlap < 0 || cfg.Chunk.Overlap >= cfg.Chunk.Size {
		errs = append(errs, fmt.Sprintf("CHUNK_OVERLAP must be between 0 and CHUNK_SIZE(%d), got %d", cfg.Chunk.Size, cfg.Chunk.Overlap))
	}
	if cfg.Search.TopK < 1 || cfg.Search.TopK > 50 {
		errs = append(errs, fmt.Sprintf("SEARCH_TOP_K must be between 1 and 50, got %d", cfg.Search.TopK))
	}
	if cfg.Search.MinSimilarity < 0 || cfg.Search.MinSimilarity > 1 {
		errs = append(errs, fmt.Sprintf("SEARCH_MIN_SIMILARITY must be between 0 and 1, got %f", cfg.Search.MinSimilarity))
	}
	if cfg.Retry.Attempts < 1 {
		errs = append(errs, "RETRY_ATTEMPTS must be at least 1")
	}
	switch cfg.Loader.DuplicateAction {
	case "", "skip", "overwrite":
	default:
		errs = append(errs, fmt.Sprintf("LOADER_DUPLICATE_ACTION must be skip or overwrite, got %q", cfg.Loader.DuplicateAction))
	}

	if len(errs) > 0 {
		return errors.New("configuration validation errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnvFile(environment string) string {
	switch environment {
	case "prod", "production":
		return ".env.prod"
	case "local", "dev", "development":
		return ".env.local"
	default:
		return fmt.Sprintf(".env.%s", environment)
	}
}
