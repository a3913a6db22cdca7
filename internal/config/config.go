// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the full application configuration.
type Config struct {
	LogLevel slog.Level
	DB       DBConfig
	Pipeline PipelineConfig
	Cluster  ClusterConfig
	OpenAI   OpenAIConfig
	Reader   ReaderConfig
	Research ResearchConfig
	Feeds    FeedsConfig
	Ops      OpsConfig
	S3       S3Config
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
	URL     string
	Host    string
	Port    int
	User    string
	Pass    string
	DBName  string
	SSLMode string
}

// DSN returns a PostgreSQL connection string. DATABASE_URL wins when set.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return "postgres://" + c.User + ":" + c.Pass +
		"@" + c.Host + ":" + strconv.Itoa(c.Port) +
		"/" + c.DBName + "?sslmode=" + c.SSLMode
}

// PipelineConfig holds cycle scheduling, fan-out and budget parameters.
type PipelineConfig struct {
	TickInterval     time.Duration
	SoftDeadline     time.Duration
	HardDeadline     time.Duration
	ApproveThreshold int
	IngestWorkers    int
	ScoreWorkers     int
	FetchWorkers     int
	ComponentWorkers int
	ScoreBudget      int
	SynthBudget      int
	ComponentBudget  int
	FetchBudget      int
	MinFullText      int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RunOnce          bool
}

// ClusterConfig holds grouping thresholds and lifecycle windows.
type ClusterConfig struct {
	MatchThreshold float64
	Window         time.Duration
	Inactivity     time.Duration
	MaxAge         time.Duration
}

// OpenAIConfig holds the language model API parameters. TokenBudget caps
// total token spend per cycle across all model calls; zero disables the cap.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	TokenBudget int
}

// ReaderConfig holds the primary full-text extraction service parameters.
type ReaderConfig struct {
	URL string
	Key string
}

// ResearchConfig holds the fact-research service parameters used for
// component payloads.
type ResearchConfig struct {
	URL string
	Key string
}

// FeedsConfig holds the feed catalog location.
type FeedsConfig struct {
	File string
}

// OpsConfig holds the operator HTTP server parameters.
type OpsConfig struct {
	Addr string
}

// S3Config holds S3-compatible object storage parameters for the optional
// full-text snapshot archive.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		LogLevel: envOrLevel("LOG_LEVEL", slog.LevelInfo),
		DB: DBConfig{
			URL:     envOr("DATABASE_URL", ""),
			Host:    envOr("DB_HOST", "localhost"),
			Port:    envOrInt("DB_PORT", 5432),
			User:    envOr("DB_USER", "newsloom"),
			Pass:    envOr("DB_PASS", "newsloom"),
			DBName:  envOr("DB_NAME", "newsloom"),
			SSLMode: envOr("DB_SSLMODE", "disable"),
		},
		Pipeline: PipelineConfig{
			TickInterval:     envOrDuration("TICK_INTERVAL", 10*time.Minute),
			SoftDeadline:     envOrDuration("CYCLE_SOFT_DEADLINE", 8*time.Minute),
			HardDeadline:     envOrDuration("CYCLE_HARD_DEADLINE", 12*time.Minute),
			ApproveThreshold: envOrInt("APPROVE_THRESHOLD", 700),
			IngestWorkers:    envOrInt("INGEST_WORKERS", 30),
			ScoreWorkers:     envOrInt("SCORE_WORKERS", 10),
			FetchWorkers:     envOrInt("FETCH_WORKERS", 8),
			ComponentWorkers: envOrInt("COMPONENT_WORKERS", 5),
			ScoreBudget:      envOrInt("SCORE_BUDGET", 500),
			SynthBudget:      envOrInt("SYNTH_BUDGET", 50),
			ComponentBudget:  envOrInt("COMPONENT_BUDGET", 150),
			FetchBudget:      envOrInt("FETCH_BUDGET", 10),
			MinFullText:      envOrInt("MIN_FULLTEXT_CHARS", 400),
			BreakerThreshold: envOrInt("BREAKER_THRESHOLD", 5),
			BreakerCooldown:  envOrDuration("BREAKER_COOLDOWN", time.Minute),
			RunOnce:          envOrBool("RUN_ONCE", false),
		},
		Cluster: ClusterConfig{
			MatchThreshold: envOrFloat("CLUSTER_MATCH_THRESHOLD", 0.75),
			Window:         envOrDuration("CLUSTER_WINDOW", 24*time.Hour),
			Inactivity:     envOrDuration("CLUSTER_INACTIVITY", 24*time.Hour),
			MaxAge:         envOrDuration("CLUSTER_MAX_AGE", 48*time.Hour),
		},
		OpenAI: OpenAIConfig{
			APIKey:      envOr("OPENAI_API_KEY", ""),
			Model:       envOr("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:     envOr("OPENAI_BASE_URL", ""),
			TokenBudget: envOrInt("OPENAI_TOKEN_BUDGET", 0),
		},
		Reader: ReaderConfig{
			URL: envOr("READER_API_URL", ""),
			Key: envOr("READER_API_KEY", ""),
		},
		Research: ResearchConfig{
			URL: envOr("RESEARCH_API_URL", ""),
			Key: envOr("RESEARCH_API_KEY", ""),
		},
		Feeds: FeedsConfig{
			File: envOr("FEEDS_FILE", ""),
		},
		Ops: OpsConfig{
			Addr: envOr("OPS_ADDR", ":8090"),
		},
		S3: S3Config{
			Endpoint:  envOr("S3_ENDPOINT", ""),
			Bucket:    envOr("S3_BUCKET", "newsloom-snapshots"),
			AccessKey: envOr("S3_ACCESS_KEY", ""),
			SecretKey: envOr("S3_SECRET_KEY", ""),
			Region:    envOr("S3_REGION", "us-ashburn-1"),
		},
	}
}

// Validate reports configuration states the worker cannot start from.
func (c Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("config: OPENAI_API_KEY is required")
	}
	if c.Pipeline.TickInterval < time.Minute {
		return errors.New("config: TICK_INTERVAL must be at least 1m")
	}
	if c.Cluster.MatchThreshold <= 0 || c.Cluster.MatchThreshold > 1 {
		return errors.New("config: CLUSTER_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.Pipeline.ApproveThreshold < 0 || c.Pipeline.ApproveThreshold > 1000 {
		return errors.New("config: APPROVE_THRESHOLD must be in [0, 1000]")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envOrLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return l
}
