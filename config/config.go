// Package config loads engine configuration from the environment.
//
// A .env file is honored when present (development convenience); real
// deployments set variables directly. All values have working defaults so a
// zero-config local run talks to localhost services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/MercatoLabs/dealkit/logger"
)

// Config is the root configuration for the contract engine.
type Config struct {
	Redis    RedisConfig
	SQL      SQLConfig
	Vector   VectorConfig
	LLM      LLMConfig
	Memory   MemoryConfig
	Breaker  BreakerConfig
	Audit    AuditConfig
}

// RedisConfig configures the fast key-value store client.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	PoolSize int
	// Timeout applies to dial, read, and write.
	Timeout time.Duration
}

// Addr returns the host:port address for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SQLConfig configures the durable SQL mirror. Writes there are best-effort.
type SQLConfig struct {
	DSN string
}

// VectorConfig configures the semantic memory store.
type VectorConfig struct {
	Address    string
	Collection string
	Dimension  int
}

// LLMConfig configures external LLM calls.
type LLMConfig struct {
	Model   string
	Timeout time.Duration
}

// MemoryConfig holds the tiered-memory bounds.
type MemoryConfig struct {
	MaxBufferMessages    int
	MaxBufferTokens      int
	SummarizeThreshold   int
	SummarizeBatch       int
	BufferTTL            time.Duration
	SummaryTTL           time.Duration
	MaxSummaryHistory    int
	SummaryMergeCount    int
	SummaryMergeMaxChars int
}

// BreakerConfig holds circuit breaker tuning for external stores.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// AuditConfig configures audit artifact emission.
type AuditConfig struct {
	BasePath string
}

// Load reads configuration from the environment, honoring a .env file when
// present. It returns an error when a set variable fails to parse.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Debug("No .env file loaded", "error", err)
	}

	cfg := Default()
	var errs []error

	cfg.Redis.Host = envString("HOST", cfg.Redis.Host)
	cfg.Redis.Port = envInt("PORT", cfg.Redis.Port, &errs)
	cfg.Redis.DB = envInt("DB", cfg.Redis.DB, &errs)
	cfg.SQL.DSN = envString("SQL_DSN", cfg.SQL.DSN)
	cfg.Vector.Address = envString("VECTOR_ADDR", cfg.Vector.Address)
	cfg.LLM.Model = envString("LLM_MODEL", cfg.LLM.Model)
	cfg.Audit.BasePath = envString("AUDIT_PATH", cfg.Audit.BasePath)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %d invalid environment values: %v", len(errs), errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration for a local deployment.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			DB:       0,
			PoolSize: 20,
			Timeout:  5 * time.Second,
		},
		SQL: SQLConfig{
			DSN: "postgres://localhost:5432/dealkit?sslmode=disable",
		},
		Vector: VectorConfig{
			Address:    "localhost:19530",
			Collection: "semantic_memory",
			Dimension:  384,
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Memory: MemoryConfig{
			MaxBufferMessages:    30,
			MaxBufferTokens:      4000,
			SummarizeThreshold:   3000,
			SummarizeBatch:       10,
			BufferTTL:            6 * time.Hour,
			SummaryTTL:           24 * time.Hour,
			MaxSummaryHistory:    8,
			SummaryMergeCount:    3,
			SummaryMergeMaxChars: 500,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Audit: AuditConfig{
			BasePath: "tmp/audit",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("config: invalid redis port %d", c.Redis.Port)
	}
	if c.Redis.PoolSize < 1 {
		return fmt.Errorf("config: redis pool size must be >= 1, got %d", c.Redis.PoolSize)
	}
	if c.Memory.MaxBufferMessages < 1 || c.Memory.MaxBufferTokens < 1 {
		return fmt.Errorf("config: buffer bounds must be positive")
	}
	if c.Memory.SummarizeThreshold > c.Memory.MaxBufferTokens {
		return fmt.Errorf("config: summarize threshold %d exceeds buffer token bound %d",
			c.Memory.SummarizeThreshold, c.Memory.MaxBufferTokens)
	}
	if c.Vector.Dimension < 1 {
		return fmt.Errorf("config: vector dimension must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker failure threshold must be >= 1")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return fallback
	}
	return n
}
