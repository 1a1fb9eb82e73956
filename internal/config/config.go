package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Enrich   EnrichConfig   `mapstructure:"enrich" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Client   ClientConfig   `mapstructure:"client" validate:"-"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// ProducerOnlineWindow is how recent a heartbeat must be for the
	// producer to be reported as connected.
	ProducerOnlineWindow time.Duration `mapstructure:"producer_online_window" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Driver selects the engine: sqlite (single writer, default) or postgres.
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	// URL is a file path for sqlite or a connection URL for postgres.
	URL           string `mapstructure:"url" validate:"required"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" validate:"gte=0"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// StorageConfig controls where ingested artifacts are kept on the server.
type StorageConfig struct {
	ArtifactDir string `mapstructure:"artifact_dir" validate:"required"`
}

// WorkerConfig controls the background workers.
type WorkerConfig struct {
	// LIFOThreshold switches claim order to newest-first once this many tasks
	// are pending. Zero disables LIFO.
	LIFOThreshold int           `mapstructure:"lifo_threshold" validate:"gte=0"`
	IdleWait      time.Duration `mapstructure:"idle_wait" validate:"gt=0"`
	ClaimBackoff  time.Duration `mapstructure:"claim_backoff" validate:"gt=0"`
	ErrorPause    time.Duration `mapstructure:"error_pause" validate:"gt=0"`

	ScreenshotEnabled bool `mapstructure:"screenshot_enabled"`
	VideoEnabled      bool `mapstructure:"video_enabled"`
	AudioEnabled      bool `mapstructure:"audio_enabled"`
}

// RetryConfig controls the bounded retry applied to store writes.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// EnrichConfig selects and configures the enrichment collaborators.
type EnrichConfig struct {
	// Provider is stub (deterministic local output), http (OCR/transcription
	// service for text, stubs elsewhere) or gemini (http text + gemini vision
	// and embeddings).
	Provider       string        `mapstructure:"provider" validate:"required,oneof=stub http gemini"`
	OCRURL         string        `mapstructure:"ocr_url" validate:"omitempty,url"`
	TranscribeURL  string        `mapstructure:"transcribe_url" validate:"omitempty,url"`
	GeminiAPIKey   string        `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	VisionModel    string        `mapstructure:"vision_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// AuthConfig contains the shared secret used to sign and verify device tokens.
type AuthConfig struct {
	TokenSecret   string        `mapstructure:"token_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// ClientConfig contains the capture client settings.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url" validate:"required,url"`
	BufferDir         string        `mapstructure:"buffer_dir" validate:"required"`
	InboxDir          string        `mapstructure:"inbox_dir"`
	DeviceID          string        `mapstructure:"device_id" validate:"required"`
	DrainInterval     time.Duration `mapstructure:"drain_interval" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	BatchSize         int           `mapstructure:"batch_size" validate:"gt=0"`
	UploadsPerSecond  float64       `mapstructure:"uploads_per_second" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}
