// Package config loads and validates the gateway's configuration: server,
// pipeline (adaptive batching, rate limiting, backpressure, retries), the
// LLM agent, TTS, and the message store, from a YAML file and/or
// GATEWAY_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/whatsapp-agent-gateway/gateway/internal/batching"
	"github.com/whatsapp-agent-gateway/gateway/internal/buffer"
	"github.com/whatsapp-agent-gateway/gateway/internal/ratelimit"
)

// Config is the top-level configuration structure for the gateway process.
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Agent    AgentConfig
	TTS      TTSConfig
	Store    StoreConfig
	WhatsApp WhatsAppConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	VerifyToken     string        `mapstructure:"verify_token"`
}

// PipelineConfig covers every item spec.md §6 enumerates for the core
// pipeline: adaptive batching, hybrid rate limiting, backpressure, retry
// policy, dedup, and the TTS opt-in chance.
type PipelineConfig struct {
	AdaptiveTimeout  time.Duration `mapstructure:"adaptive_timeout"`
	SilenceThreshold time.Duration `mapstructure:"silence_threshold"`
	MaxBufferSize    int           `mapstructure:"max_buffer_size"`

	RateLimitTokensPerMinute     int           `mapstructure:"rate_limit_tokens_per_minute"`
	RateLimitBucketCapacity      int           `mapstructure:"rate_limit_bucket_capacity"`
	RateLimitMaxMessagesInWindow int           `mapstructure:"rate_limit_max_messages_in_window"`
	RateLimitSlidingWindow       time.Duration `mapstructure:"rate_limit_sliding_window"`

	Backpressure      string        `mapstructure:"backpressure"`
	BlockUntilTimeout time.Duration `mapstructure:"block_until_timeout"`

	ErrorsMaxRetries               int           `mapstructure:"errors_max_retries"`
	ErrorsRetryDelay               time.Duration `mapstructure:"errors_retry_delay"`
	ErrorsExponentialBackoff       bool          `mapstructure:"errors_exponential_backoff"`
	ErrorsNotifyUserOnFailure      bool          `mapstructure:"errors_notify_user_on_failure"`
	ErrorsUserNotificationMessage  string        `mapstructure:"errors_user_notification_message"`

	MaxProcessedIDs int           `mapstructure:"max_processed_ids"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	LimiterIdleTTL  time.Duration `mapstructure:"limiter_idle_ttl"`

	SpeechPlayChance float64 `mapstructure:"speech_play_chance"`
}

// AgentConfig holds the LLM agent client settings.
type AgentConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TTSConfig holds optional text-to-speech settings.
type TTSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Voice   string `mapstructure:"voice"`
}

// StoreConfig selects and configures the MessageStore implementation.
type StoreConfig struct {
	Kind        string `mapstructure:"kind"` // memory | redis | postgres
	RedisURL    string `mapstructure:"redis_url"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// WhatsAppConfig holds the outbound WhatsApp Business API client settings.
type WhatsAppConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	APIEndpoint       string        `mapstructure:"api_endpoint"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
}

// Load reads configuration from ./config.yaml (or /etc/gateway/config.yaml)
// overlaid with GATEWAY_-prefixed environment variables, then validates it.
// An invalid configuration is a fatal error the caller should treat as
// unrecoverable at startup.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gateway/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default values for all configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.verify_token", "")

	v.SetDefault("pipeline.adaptive_timeout", "5s")
	v.SetDefault("pipeline.silence_threshold", "2s")
	v.SetDefault("pipeline.max_buffer_size", 50)
	v.SetDefault("pipeline.rate_limit_tokens_per_minute", 60)
	v.SetDefault("pipeline.rate_limit_bucket_capacity", 20)
	v.SetDefault("pipeline.rate_limit_max_messages_in_window", 10)
	v.SetDefault("pipeline.rate_limit_sliding_window", "30s")
	v.SetDefault("pipeline.backpressure", "DROP_OLDEST")
	v.SetDefault("pipeline.block_until_timeout", "5s")
	v.SetDefault("pipeline.errors_max_retries", 3)
	v.SetDefault("pipeline.errors_retry_delay", "2s")
	v.SetDefault("pipeline.errors_exponential_backoff", true)
	v.SetDefault("pipeline.errors_notify_user_on_failure", false)
	v.SetDefault("pipeline.errors_user_notification_message", "")
	v.SetDefault("pipeline.max_processed_ids", 5000)
	v.SetDefault("pipeline.idle_ttl", "10m")
	v.SetDefault("pipeline.limiter_idle_ttl", "1h")
	v.SetDefault("pipeline.speech_play_chance", 0.0)

	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.model", "gpt-4o-mini")
	v.SetDefault("agent.timeout", "30s")

	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("whatsapp.api_key", "")
	v.SetDefault("whatsapp.api_endpoint", "")
	v.SetDefault("whatsapp.webhook_secret", "")
	v.SetDefault("whatsapp.timeout", "30s")
	v.SetDefault("whatsapp.retry_attempts", 3)
	v.SetDefault("whatsapp.retry_delay", "2s")
	v.SetDefault("whatsapp.requests_per_second", 20.0)
}

// validate checks that all required configuration values are present and
// internally consistent, including the nested batching.Config it projects.
func (cfg *Config) validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.WhatsApp.APIKey == "" {
		return fmt.Errorf("WhatsApp API key is required")
	}
	if cfg.WhatsApp.APIEndpoint == "" {
		return fmt.Errorf("WhatsApp API endpoint is required")
	}

	if cfg.Agent.APIKey == "" {
		return fmt.Errorf("agent API key is required")
	}

	switch cfg.Store.Kind {
	case "memory":
	case "redis":
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required when store.kind is redis")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required when store.kind is postgres")
		}
	default:
		return fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}

	if _, err := cfg.BackpressurePolicy(); err != nil {
		return err
	}
	return cfg.BatchingConfig().Validate()
}

// BackpressurePolicy translates the configured string into a buffer.Policy.
func (cfg *Config) BackpressurePolicy() (buffer.Policy, error) {
	switch strings.ToUpper(cfg.Pipeline.Backpressure) {
	case "DROP_NEW":
		return buffer.DropNew, nil
	case "DROP_OLDEST":
		return buffer.DropOldest, nil
	case "FLUSH_AND_ACCEPT":
		return buffer.FlushAndAccept, nil
	case "REJECT_WITH_NOTIFY":
		return buffer.RejectWithNotify, nil
	case "BLOCK_UNTIL_SPACE":
		return buffer.BlockUntilSpace, nil
	default:
		return 0, fmt.Errorf("unknown backpressure policy %q", cfg.Pipeline.Backpressure)
	}
}

// BatchingConfig projects PipelineConfig into batching.Config, the shape
// BatchingService actually consumes.
func (cfg *Config) BatchingConfig() batching.Config {
	policy, _ := cfg.BackpressurePolicy()
	backoff := batching.BackoffLinear
	if cfg.Pipeline.ErrorsExponentialBackoff {
		backoff = batching.BackoffExponential
	}
	return batching.Config{
		AdaptiveTimeout:  cfg.Pipeline.AdaptiveTimeout,
		SilenceThreshold: cfg.Pipeline.SilenceThreshold,
		MaxBufferSize:    cfg.Pipeline.MaxBufferSize,
		RateLimit: ratelimit.Config{
			TokensPerMinute:      cfg.Pipeline.RateLimitTokensPerMinute,
			BucketCapacity:       cfg.Pipeline.RateLimitBucketCapacity,
			MaxMessagesInWindow:  cfg.Pipeline.RateLimitMaxMessagesInWindow,
			SlidingWindow:        cfg.Pipeline.RateLimitSlidingWindow,
		},
		Backpressure:      policy,
		BlockUntilTimeout: cfg.Pipeline.BlockUntilTimeout,
		Errors: batching.ErrorsConfig{
			MaxRetries:              cfg.Pipeline.ErrorsMaxRetries,
			RetryDelay:              cfg.Pipeline.ErrorsRetryDelay,
			Backoff:                 backoff,
			NotifyUserOnFailure:     cfg.Pipeline.ErrorsNotifyUserOnFailure,
			UserNotificationMessage: cfg.Pipeline.ErrorsUserNotificationMessage,
		},
		MaxProcessedIDs:  cfg.Pipeline.MaxProcessedIDs,
		IdleTTL:          cfg.Pipeline.IdleTTL,
		LimiterIdleTTL:   cfg.Pipeline.LimiterIdleTTL,
		SpeechPlayChance: cfg.Pipeline.SpeechPlayChance,
	}
}
