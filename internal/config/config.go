package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Storymill server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Intake   IntakeConfig
	Explorer ExplorerConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// IntakeConfig points at the feedback intake service that serves classified
// records.
type IntakeConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	PageSize    int
	Concurrency int
}

// ExplorerConfig points at the code-exploration collaborator used for
// dual-format synthesis.
type ExplorerConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// PipelineConfig holds the clustering and gating thresholds. None of the
// defaults are load-bearing; they are starting points for tuning.
type PipelineConfig struct {
	SimilarityThreshold   float64
	MinConfidence         float64
	DropRateWarnThreshold float64
	ReviewEnabled         bool
	ReviewMinOverlap      float64
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STORYMILL_PORT", 8080),
			Env:  envString("STORYMILL_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Intake: IntakeConfig{
			BaseURL:     os.Getenv("INTAKE_BASE_URL"),
			APIKey:      os.Getenv("INTAKE_API_KEY"),
			Timeout:     envDuration("INTAKE_TIMEOUT", 30*time.Second),
			PageSize:    envInt("INTAKE_PAGE_SIZE", 200),
			Concurrency: envInt("INTAKE_CONCURRENCY", 8),
		},
		Explorer: ExplorerConfig{
			Enabled: envBool("CODE_CONTEXT_ENABLED", false),
			BaseURL: os.Getenv("CODE_EXPLORER_BASE_URL"),
			Timeout: envDuration("CODE_EXPLORER_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			SimilarityThreshold:   envFloat("PIPELINE_SIMILARITY_THRESHOLD", 0.80),
			MinConfidence:         envFloat("PIPELINE_MIN_CONFIDENCE", 0.55),
			DropRateWarnThreshold: envFloat("PIPELINE_DROP_RATE_WARN", 0.50),
			ReviewEnabled:         envBool("PIPELINE_REVIEW_ENABLED", true),
			ReviewMinOverlap:      envFloat("PIPELINE_REVIEW_MIN_OVERLAP", 0.25),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Intake.BaseURL == "" {
		return fmt.Errorf("INTAKE_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Intake.BaseURL, "http://") && !strings.HasPrefix(c.Intake.BaseURL, "https://") {
		return fmt.Errorf("INTAKE_BASE_URL must start with http:// or https://, got %q", c.Intake.BaseURL)
	}

	if c.Explorer.Enabled {
		if c.Explorer.BaseURL == "" {
			return fmt.Errorf("CODE_EXPLORER_BASE_URL is required when CODE_CONTEXT_ENABLED is true")
		}
		if !strings.HasPrefix(c.Explorer.BaseURL, "http://") && !strings.HasPrefix(c.Explorer.BaseURL, "https://") {
			return fmt.Errorf("CODE_EXPLORER_BASE_URL must start with http:// or https://, got %q", c.Explorer.BaseURL)
		}
	}

	if c.Pipeline.SimilarityThreshold <= 0 || c.Pipeline.SimilarityThreshold > 1 {
		return fmt.Errorf("PIPELINE_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.Pipeline.SimilarityThreshold)
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		return fmt.Errorf("PIPELINE_MIN_CONFIDENCE must be in [0, 1], got %v", c.Pipeline.MinConfidence)
	}
	if c.Pipeline.ReviewMinOverlap < 0 || c.Pipeline.ReviewMinOverlap > 1 {
		return fmt.Errorf("PIPELINE_REVIEW_MIN_OVERLAP must be in [0, 1], got %v", c.Pipeline.ReviewMinOverlap)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
