// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Observability ObservabilityConfig
	Recording     RecordingConfig
	STT           STTConfig
	Transcription TranscriptionConfig
	IdleLock      IdleLockConfig
	Kafka         KafkaConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Auth          AuthConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string `validate:"required"`
	HTTPPort  string `validate:"required,numeric"`
	GRPCPort  string `validate:"required,numeric"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `validate:"oneof=trace debug info warn error"`
	LogFormat   string `validate:"oneof=json console"`
	LogFile     string
	MetricsAddr string `validate:"required"`
}

// RecordingConfig controls the transcription engine timing.
type RecordingConfig struct {
	ChunkInterval time.Duration `validate:"gt=0"`
	SilenceWindow time.Duration `validate:"gte=0"`
	FlushGrace    time.Duration `validate:"gte=0"`
	MIMEType      string        `validate:"required"`
	// BytesPerSecond paces file-fed microphones (16kHz 16-bit mono by default).
	BytesPerSecond int `validate:"gt=0"`
}

// STTConfig selects and configures the live speech engine.
type STTConfig struct {
	Provider       string `validate:"oneof=none mock google"`
	LanguageCode   string `validate:"required"`
	SampleRateHz   int    `validate:"gt=0"`
	InterimResults bool
	AudioEncoding  string
	Model          string
}

// TranscriptionConfig selects the post-recording transcription backend.
type TranscriptionConfig struct {
	Backend         string        `validate:"oneof=synthetic whisper"`
	ProcessingDelay time.Duration `validate:"gte=0"`
	OpenAIAPIKey    string        `validate:"required_if=Backend whisper"`
	// BaseURL points Whisper at an OpenAI-compatible server. Empty uses
	// the OpenAI API.
	BaseURL  string `validate:"omitempty,url"`
	Language string
}

// IdleLockConfig holds the idle guard thresholds.
type IdleLockConfig struct {
	WarningThreshold time.Duration `validate:"gt=0"`
	LockThreshold    time.Duration `validate:"gtfield=WarningThreshold"`
	PollInterval     time.Duration `validate:"gt=0"`
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string `validate:"required_if=Enabled true"`
	TopicPartial string
	TopicFinal   string
	TopicAudit   string
	Principal    string
}

// DatabaseConfig holds the Postgres data service settings.
type DatabaseConfig struct {
	Enabled     bool
	DSN         string `validate:"required_if=Enabled true"`
	AutoMigrate bool
}

// RedisConfig holds lock-state and session store settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string `validate:"required_if=Enabled true"`
	Password string
	DB       int `validate:"gte=0"`
}

// StorageConfig holds S3 blob storage settings.
type StorageConfig struct {
	Enabled        bool
	Region         string `validate:"required_if=Enabled true"`
	Bucket         string `validate:"required_if=Enabled true"`
	Endpoint       string
	SignedURLTTL   time.Duration `validate:"gt=0"`
	RecordingsPath string
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret string        `validate:"required,min=16"`
	TokenTTL  time.Duration `validate:"gt=0"`
	// DevUserEmail and DevUserPassword seed the in-memory user directory
	// when the database is disabled.
	DevUserEmail    string `validate:"omitempty,email"`
	DevUserPassword string `validate:"required_with=DevUserEmail"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-clinical-dictation")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			LogFile:     envOrDefault("LOG_FILE", ""),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Recording: RecordingConfig{
			ChunkInterval:  envOrDefaultDuration("RECORDING_CHUNK_INTERVAL", time.Second),
			SilenceWindow:  envOrDefaultDuration("RECORDING_SILENCE_WINDOW", 5*time.Second),
			FlushGrace:     envOrDefaultDuration("RECORDING_FLUSH_GRACE", 500*time.Millisecond),
			MIMEType:       envOrDefault("RECORDING_MIME_TYPE", "audio/webm"),
			BytesPerSecond: envOrDefaultInt("RECORDING_BYTES_PER_SECOND", 32000),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "WEBM_OPUS"),
			Model:          envOrDefault("STT_MODEL", ""),
		},
		Transcription: TranscriptionConfig{
			Backend:         envOrDefault("TRANSCRIPTION_BACKEND", "synthetic"),
			ProcessingDelay: envOrDefaultDuration("TRANSCRIPTION_PROCESSING_DELAY", 1500*time.Millisecond),
			OpenAIAPIKey:    envOrDefault("OPENAI_API_KEY", ""),
			BaseURL:         envOrDefault("TRANSCRIPTION_BASE_URL", ""),
			Language:        envOrDefault("TRANSCRIPTION_LANGUAGE", "en"),
		},
		IdleLock: IdleLockConfig{
			WarningThreshold: envOrDefaultDuration("IDLE_WARNING_THRESHOLD", 90*time.Second),
			LockThreshold:    envOrDefaultDuration("IDLE_LOCK_THRESHOLD", 120*time.Second),
			PollInterval:     envOrDefaultDuration("IDLE_POLL_INTERVAL", time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "clinic.dictation.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "clinic.dictation.transcript.final"),
			TopicAudit:   envOrDefault("KAFKA_TOPIC_AUDIT", "clinic.audit"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Database: DatabaseConfig{
			Enabled:     envOrDefaultBool("DATABASE_ENABLED", false),
			DSN:         envOrDefault("DATABASE_DSN", ""),
			AutoMigrate: envOrDefaultBool("DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Enabled:  envOrDefaultBool("REDIS_ENABLED", false),
			Addr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: envOrDefault("REDIS_PASSWORD", ""),
			DB:       envOrDefaultInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Enabled:        envOrDefaultBool("STORAGE_ENABLED", false),
			Region:         envOrDefault("AWS_REGION", ""),
			Bucket:         envOrDefault("STORAGE_BUCKET", "dictations"),
			Endpoint:       envOrDefault("STORAGE_ENDPOINT", ""),
			SignedURLTTL:   envOrDefaultDuration("STORAGE_SIGNED_URL_TTL", 15*time.Minute),
			RecordingsPath: envOrDefault("STORAGE_RECORDINGS_PATH", "recordings"),
		},
		Auth: AuthConfig{
			JWTSecret: envOrDefault("JWT_SECRET", ""),
			TokenTTL:  envOrDefaultDuration("JWT_TOKEN_TTL", 12*time.Hour),

			DevUserEmail:    envOrDefault("AUTH_DEV_USER_EMAIL", ""),
			DevUserPassword: envOrDefault("AUTH_DEV_USER_PASSWORD", ""),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
