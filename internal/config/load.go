package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. RECALL_DATABASE_URL overrides database.url.
const EnvPrefix = "RECALL"

var validate = validator.New()

// Load configuration for the server from environment variables and an
// optional config file. Environment variables take precedence over values
// from config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.validateEnrich(); err != nil {
		return nil, err
	}
	if err := cfg.validateDatabase(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClient loads configuration for the capture client. Only the client
// section and the token secret are validated.
func LoadClient() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg.Client); err != nil {
		return nil, fmt.Errorf("client config validation failed: %w", err)
	}
	if err := validate.Struct(cfg.Auth); err != nil {
		return nil, fmt.Errorf("client auth config validation failed: %w", err)
	}

	return cfg, nil
}

func load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/recall")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.producer_online_window", 2*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "recall.db")
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.max_open_conns", 8)

	v.SetDefault("storage.artifact_dir", "artifacts")

	v.SetDefault("worker.lifo_threshold", 50)
	v.SetDefault("worker.idle_wait", 5*time.Second)
	v.SetDefault("worker.claim_backoff", 200*time.Millisecond)
	v.SetDefault("worker.error_pause", 2*time.Second)
	v.SetDefault("worker.screenshot_enabled", true)
	v.SetDefault("worker.video_enabled", true)
	v.SetDefault("worker.audio_enabled", true)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 25*time.Millisecond)
	v.SetDefault("retry.max_delay", time.Second)

	v.SetDefault("enrich.provider", "stub")
	v.SetDefault("enrich.ocr_url", "")
	v.SetDefault("enrich.transcribe_url", "")
	v.SetDefault("enrich.gemini_api_key", "")
	v.SetDefault("enrich.vision_model", "gemini-2.0-flash")
	v.SetDefault("enrich.embedding_model", "text-embedding-004")
	v.SetDefault("enrich.timeout", 60*time.Second)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.buffer_dir", "buffer")
	v.SetDefault("client.inbox_dir", "")
	v.SetDefault("client.device_id", "")
	v.SetDefault("client.drain_interval", 10*time.Second)
	v.SetDefault("client.heartbeat_interval", 30*time.Second)
	v.SetDefault("client.request_timeout", 30*time.Second)
	v.SetDefault("client.batch_size", 20)
	v.SetDefault("client.uploads_per_second", 5.0)
	v.SetDefault("client.log_level", "info")
}

// validateEnrich checks cross-field rules the struct tags cannot express.
func (c *Config) validateEnrich() error {
	if c.Enrich.Provider != "stub" && c.Enrich.OCRURL == "" {
		return fmt.Errorf("config validation failed: enrich.ocr_url is required for provider %q",
			c.Enrich.Provider)
	}
	return nil
}

// validateDatabase leaves room in the pool for request handlers: every
// worker pins one connection for its lifetime.
func (c *Config) validateDatabase() error {
	pinned := len(domain.AllArtifactKinds)
	if c.Database.MaxOpenConns != 0 && c.Database.MaxOpenConns <= pinned {
		return fmt.Errorf("config validation failed: database.max_open_conns must be 0 or greater than %d, got %d",
			pinned, c.Database.MaxOpenConns)
	}
	return nil
}
