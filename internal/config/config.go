// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration parsed from environment
// variables, per spec §6.5, plus the ambient fields every service in this
// module needs (app env, observability endpoints, admin HTTP surface).
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	StreamName     string `env:"STREAM_NAME" envDefault:"audit:events"`
	DLQStream      string `env:"DLQ_STREAM" envDefault:"audit:dlq"`
	ConsumerGroup  string `env:"CONSUMER_GROUP" envDefault:"orchestrator"`
	ConsumerName   string `env:"CONSUMER_NAME" envDefault:""`
	KeyPrefix      string `env:"KEY_PREFIX" envDefault:"audit"`

	BlockMS         int `env:"BLOCK_MS" envDefault:"5000"`
	IdleReclaimMS   int `env:"IDLE_RECLAIM_MS" envDefault:"30000"`
	ReclaimCount    int `env:"RECLAIM_COUNT" envDefault:"10"`
	MaxAttempts     int `env:"MAX_ATTEMPTS" envDefault:"5"`
	DedupeTTLS      int `env:"DEDUPE_TTL_S" envDefault:"3600"`
	ReadCount       int `env:"READ_COUNT" envDefault:"10"`

	// StreamMaxLen approximately bounds the event and DLQ streams via
	// MAXLEN ~ trimming on XADD; 0 disables trimming.
	StreamMaxLen int64 `env:"STREAM_MAX_LEN" envDefault:"100000"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SchemaDir    string `env:"SCHEMA_DIR" envDefault:"./schemas"`
	SchemaDirEnv string `env:"AUDITFLOW_SCHEMA_DIR" envDefault:""`

	// Phase timeouts (C10/C11), seconds.
	AnalyzeTimeoutS     int `env:"ANALYZE_TIMEOUT_S" envDefault:"30"`
	ArchitectureTimeoutS int `env:"ARCHITECTURE_TIMEOUT_S" envDefault:"30"`
	CodeTimeoutS        int `env:"CODE_TIMEOUT_S" envDefault:"60"`
	ReviewTimeoutS      int `env:"REVIEW_TIMEOUT_S" envDefault:"30"`
	ReviewMaxRetries    int `env:"REVIEW_MAX_RETRIES" envDefault:"2"`

	// Definition-of-done / evaluation caps. Parsed only: the DoD registry
	// applies its own fixed 480-minute cap and does not read this field.
	TaskMinutesCap int `env:"TASK_MINUTES_CAP" envDefault:"480"`

	// LedgerDir roots the append-only per-project fact ledger (C? grounding).
	LedgerDir string `env:"LEDGER_DIR" envDefault:"storage/audit_log"`

	// Worker identity (C9); empty for the orchestrator binary.
	AgentName string `env:"AGENT_NAME" envDefault:""`

	// Observability.
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"auditflow"`
	MetricsAddr     string `env:"METRICS_ADDR" envDefault:":9090"`

	// Admin HTTP surface (DLQ browse/replay, health).
	AdminAddr        string `env:"ADMIN_ADDR" envDefault:":8081"`
	AdminRateLimit   int    `env:"ADMIN_RATE_LIMIT_PER_MIN" envDefault:"60"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`

	// Optional Slack notifier, no-op when unset.
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL" envDefault:""`
	SlackChannel    string `env:"SLACK_CHANNEL" envDefault:""`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		cfg.ConsumerName = hostname
	}
	return cfg, nil
}

// LoadFile reads a YAML overlay file and applies it on top of the
// environment-derived configuration; unset/missing file is not an error.
// Overlay keys match Config fields case-insensitively with underscores
// ignored, so both stream_name and streamname set StreamName.
func LoadFile(path string) (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("op=config.LoadFile: %w", err)
	}
	var overlay map[string]any
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("op=config.LoadFile: decode: %w", err)
	}
	normalized := make(map[string]any, len(overlay))
	for key, value := range overlay {
		normalized[strings.ReplaceAll(strings.ToLower(key), "_", "")] = value
	}
	encoded, err := yaml.Marshal(normalized)
	if err != nil {
		return Config{}, fmt.Errorf("op=config.LoadFile: normalize: %w", err)
	}
	if err := yaml.Unmarshal(encoded, &cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.LoadFile: decode: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// RedisAddr returns the host:port pair go-redis expects.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c Config) blockDuration() time.Duration {
	return time.Duration(c.BlockMS) * time.Millisecond
}

// BlockDuration is the XREADGROUP block timeout.
func (c Config) BlockDuration() time.Duration { return c.blockDuration() }

// IdleReclaimDuration is the XAUTOCLAIM min-idle-time threshold.
func (c Config) IdleReclaimDuration() time.Duration {
	return time.Duration(c.IdleReclaimMS) * time.Millisecond
}

// DedupeTTL is the TTL applied to idempotence and attempt-accounting keys.
func (c Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLS) * time.Second
}
