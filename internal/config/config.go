// Package config loads service configuration from an optional YAML/JSON file, a .env file and
// BRAIN_-prefixed environment variables, then validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BRAIN_WORKER_CONCURRENCY.
const EnvPrefix = "BRAIN"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Stall    StallConfig    `mapstructure:"stall"`
	Assembly AssemblyConfig `mapstructure:"assembly"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// EmbedWorker runs queue consumers inside the API process.
	EmbedWorker bool `mapstructure:"embed_worker"`
	// EmbedScheduler runs the stall detector inside the API process.
	EmbedScheduler bool            `mapstructure:"embed_scheduler"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig tunes the per-client token buckets. Route tiers are fixed in code; the default
// limit applies to every route without a tier.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DefaultLimit    int           `mapstructure:"default_limit" validate:"min=0"`
	DefaultWindow   time.Duration `mapstructure:"default_window" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Whitelist       []string      `mapstructure:"whitelist"`
	Blacklist       []string      `mapstructure:"blacklist"`
}

// DatabaseConfig selects PostgreSQL. An empty URL keeps all state in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig selects the Redis Streams queue. An empty Addr uses the in-process queue.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db" validate:"min=0"`
	Group         string        `mapstructure:"group" validate:"required"`
	ClaimIdle     time.Duration `mapstructure:"claim_idle" validate:"gt=0"`
	Block         time.Duration `mapstructure:"block" validate:"gt=0"`
	MaxDeliveries int           `mapstructure:"max_deliveries" validate:"min=1"`
}

type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory s3 minio"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket" validate:"required_unless=Backend memory"`
	Region    string `mapstructure:"region"`
}

type LLMConfig struct {
	Provider        string        `mapstructure:"provider" validate:"oneof=gemini openai"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	ModelLite       string        `mapstructure:"model_lite"`
	ModelStandard   string        `mapstructure:"model_standard"`
	ModelAdvanced   string        `mapstructure:"model_advanced"`
	MaxAttempts     uint          `mapstructure:"max_attempts" validate:"min=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
}

type AnalysisConfig struct {
	MaxChunkChars int `mapstructure:"max_chunk_chars" validate:"min=1"`
}

type WorkerConfig struct {
	Name           string        `mapstructure:"name" validate:"required"`
	Concurrency    int           `mapstructure:"concurrency" validate:"min=1"`
	StorageTimeout time.Duration `mapstructure:"storage_timeout" validate:"gt=0"`
}

type StallConfig struct {
	Interval             time.Duration `mapstructure:"interval" validate:"gt=0"`
	ProcessingStaleAfter time.Duration `mapstructure:"processing_stale_after" validate:"gt=0"`
	PendingStaleAfter    time.Duration `mapstructure:"pending_stale_after" validate:"gt=0"`
	Cooldown             time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	MaxAttempts          int           `mapstructure:"max_attempts" validate:"min=1"`
}

type AssemblyConfig struct {
	MandatorySections []string `mapstructure:"mandatory_sections" validate:"dive,oneof=application_form criteria policy template supporting"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode" validate:"oneof=dev development prod production"`
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.embed_worker", false)
	v.SetDefault("server.embed_scheduler", false)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.default_limit", 1000)
	v.SetDefault("server.rate_limit.default_window", time.Minute)
	v.SetDefault("server.rate_limit.cleanup_interval", 5*time.Minute)
	v.SetDefault("server.rate_limit.whitelist", []string{})
	v.SetDefault("server.rate_limit.blacklist", []string{})

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.group", "brain-workers")
	v.SetDefault("redis.claim_idle", 5*time.Minute)
	v.SetDefault("redis.block", 5*time.Second)
	v.SetDefault("redis.max_deliveries", 10)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model_lite", "")
	v.SetDefault("llm.model_standard", "")
	v.SetDefault("llm.model_advanced", "")
	v.SetDefault("llm.max_attempts", 4)
	v.SetDefault("llm.initial_interval", 2*time.Second)
	v.SetDefault("llm.max_interval", 30*time.Second)
	v.SetDefault("llm.call_timeout", 90*time.Second)

	v.SetDefault("analysis.max_chunk_chars", 80000)

	v.SetDefault("worker.name", "worker")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.storage_timeout", 30*time.Second)

	v.SetDefault("stall.interval", 30*time.Second)
	v.SetDefault("stall.processing_stale_after", 5*time.Minute)
	v.SetDefault("stall.pending_stale_after", 2*time.Minute)
	v.SetDefault("stall.cooldown", 5*time.Minute)
	v.SetDefault("stall.max_attempts", 3)

	v.SetDefault("assembly.mandatory_sections", []string{"application_form", "criteria"})

	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. An empty path searches for brain.yaml in ./configs and the working
// directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("brain")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Provider conventions take effect when no BRAIN_ value is set.
	_ = v.BindEnv("llm.api_key", "BRAIN_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "BRAIN_DATABASE_URL", "DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Stall.Cooldown < c.Stall.Interval {
		return fmt.Errorf("config error: 'stall.cooldown' must not be shorter than 'stall.interval'")
	}
	return nil
}
