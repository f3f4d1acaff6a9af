// Package config provides configuration loading for groundd.
//
// Configuration is read from an optional YAML file and overridden by
// GROUNDD_-prefixed environment variables. Logging and telemetry own their
// own config types; use Loader.Unmarshal to decode those sections.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete groundd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	VectorStore  VectorStoreConfig  `koanf:"vectorstore"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	LLM          LLMConfig          `koanf:"llm"`
	Speech       SpeechConfig       `koanf:"speech"`
	Translate    TranslateConfig    `koanf:"translate"`
	Storage      StorageConfig      `koanf:"storage"`
	Redis        RedisConfig        `koanf:"redis"`
	NATS         NATSConfig         `koanf:"nats"`
	Temporal     TemporalConfig     `koanf:"temporal"`
	Ingestion    IngestionConfig    `koanf:"ingestion"`
	Evaluation   EvaluationConfig   `koanf:"evaluation"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Conversation ConversationConfig `koanf:"conversation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxAudioBytes   int64    `koanf:"max_audio_bytes"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // "chromem" or "qdrant"
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	Path     string `koanf:"path"` // empty keeps the index in memory
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	UseTLS           bool   `koanf:"use_tls"`
	APIKey           Secret `koanf:"api_key"`
	CollectionPrefix string `koanf:"collection_prefix"`
	MaxMessageSize   int    `koanf:"max_message_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // "openai", "gemini" or "fastembed"
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`
}

// LLMConfig configures chat completion providers.
type LLMConfig struct {
	OpenAIAPIKey  Secret        `koanf:"openai_api_key"`
	OpenAIBaseURL string        `koanf:"openai_base_url"`
	GeminiAPIKey  Secret        `koanf:"gemini_api_key"`
	DefaultModel  string        `koanf:"default_model"`
	Timeout       Duration      `koanf:"timeout"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker around generation calls.
type BreakerConfig struct {
	MaxRequests         uint32   `koanf:"max_requests"`
	Interval            Duration `koanf:"interval"`
	Timeout             Duration `koanf:"timeout"`
	ConsecutiveFailures uint32   `koanf:"consecutive_failures"`
}

// SpeechConfig configures speech-to-text and text-to-speech engines.
type SpeechConfig struct {
	GoogleAPIKey      Secret `koanf:"google_api_key"`
	OpenAIAPIKey      Secret `koanf:"openai_api_key"`
	WhisperBaseURL    string `koanf:"whisper_base_url"`
	WhisperModel      string `koanf:"whisper_model"`
	SelfHostedBaseURL string `koanf:"self_hosted_base_url"`
	OpenAITTSModel    string `koanf:"openai_tts_model"`
	OpenAITTSVoice    string `koanf:"openai_tts_voice"`
}

// TranslateConfig configures the translation provider.
type TranslateConfig struct {
	GoogleAPIKey      Secret  `koanf:"google_api_key"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Provider string       `koanf:"provider"` // "memory", "mongo" or "sqlite"
	Mongo    MongoConfig  `koanf:"mongo"`
	SQLite   SQLiteConfig `koanf:"sqlite"`
}

// MongoConfig configures the MongoDB repository.
type MongoConfig struct {
	URI      Secret `koanf:"uri"`
	Database string `koanf:"database"`
}

// SQLiteConfig configures the SQLite repository.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig configures the nonce reservation cache. An empty Addr
// disables Redis and falls back to repository reservations.
type RedisConfig struct {
	Addr     string   `koanf:"addr"`
	Password Secret   `koanf:"password"`
	DB       int      `koanf:"db"`
	NonceTTL Duration `koanf:"nonce_ttl"`
}

// NATSConfig configures progress event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig configures durable workflow execution. An empty HostPort
// runs ingestion and evaluation in-process instead.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// IngestionConfig configures the document ingestion pipeline.
type IngestionConfig struct {
	BatchSize  int      `koanf:"batch_size"`
	StaleAfter Duration `koanf:"stale_after"`
	Timeout    Duration `koanf:"timeout"`
	UploadDir  string   `koanf:"upload_dir"` // uploaded files wait here until ingested
}

// EvaluationConfig configures test run execution.
type EvaluationConfig struct {
	StaleAfter    Duration `koanf:"stale_after"`
	Timeout       Duration `koanf:"timeout"`
	QuestionDelay Duration `koanf:"question_delay"`
}

// SchedulerConfig configures periodic maintenance sweeps.
type SchedulerConfig struct {
	Disabled      bool     `koanf:"disabled"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// ConversationConfig configures turn defaults.
type ConversationConfig struct {
	PivotLanguage      string  `koanf:"pivot_language"`
	DefaultTopK        int     `koanf:"default_top_k"`
	DefaultTemperature float64 `koanf:"default_temperature"`
	StreamBuffer       int     `koanf:"stream_buffer"`
	PlatformKey        Secret  `koanf:"platform_key"`
}

// Known enum values, checked once at load time.
var (
	vectorStoreProviders = []string{"chromem", "qdrant"}
	embeddingProviders   = []string{"openai", "gemini", "fastembed"}
	storageProviders     = []string{"memory", "mongo", "sqlite"}
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxAudioBytes == 0 {
		cfg.Server.MaxAudioBytes = 25 << 20
	}

	// chromem is the default: embedded, no external deps
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.CollectionPrefix == "" {
		cfg.VectorStore.Qdrant.CollectionPrefix = "groundd"
	}
	if cfg.VectorStore.Qdrant.MaxMessageSize == 0 {
		cfg.VectorStore.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "gemini":
			cfg.Embeddings.Model = "text-embedding-004"
		case "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		default:
			cfg.Embeddings.Model = "text-embedding-ada-002"
		}
	}

	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-3.5-turbo"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(2 * time.Minute)
	}
	if cfg.LLM.Breaker.MaxRequests == 0 {
		cfg.LLM.Breaker.MaxRequests = 3
	}
	if cfg.LLM.Breaker.Interval == 0 {
		cfg.LLM.Breaker.Interval = Duration(time.Minute)
	}
	if cfg.LLM.Breaker.Timeout == 0 {
		cfg.LLM.Breaker.Timeout = Duration(30 * time.Second)
	}
	if cfg.LLM.Breaker.ConsecutiveFailures == 0 {
		cfg.LLM.Breaker.ConsecutiveFailures = 5
	}

	if cfg.Speech.WhisperBaseURL == "" {
		cfg.Speech.WhisperBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Speech.WhisperModel == "" {
		cfg.Speech.WhisperModel = "whisper-1"
	}
	if cfg.Speech.OpenAITTSModel == "" {
		cfg.Speech.OpenAITTSModel = "tts-1"
	}
	if cfg.Speech.OpenAITTSVoice == "" {
		cfg.Speech.OpenAITTSVoice = "nova"
	}

	if cfg.Translate.RequestsPerSecond == 0 {
		cfg.Translate.RequestsPerSecond = 10
	}
	if cfg.Translate.Burst == 0 {
		cfg.Translate.Burst = 5
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "memory"
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = "groundd"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "groundd.db"
	}

	if cfg.Redis.NonceTTL == 0 {
		cfg.Redis.NonceTTL = Duration(24 * time.Hour)
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "groundd"
	}

	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "groundd"
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 100
	}
	if cfg.Ingestion.StaleAfter == 0 {
		cfg.Ingestion.StaleAfter = Duration(6 * time.Hour)
	}
	if cfg.Ingestion.Timeout == 0 {
		cfg.Ingestion.Timeout = Duration(6 * time.Hour)
	}
	if cfg.Ingestion.UploadDir == "" {
		cfg.Ingestion.UploadDir = filepath.Join(os.TempDir(), "groundd-uploads")
	}

	if cfg.Evaluation.StaleAfter == 0 {
		cfg.Evaluation.StaleAfter = Duration(6 * time.Hour)
	}
	if cfg.Evaluation.Timeout == 0 {
		cfg.Evaluation.Timeout = Duration(6 * time.Hour)
	}

	if cfg.Scheduler.SweepInterval == 0 {
		cfg.Scheduler.SweepInterval = Duration(30 * time.Minute)
	}

	if cfg.Conversation.PivotLanguage == "" {
		cfg.Conversation.PivotLanguage = "en"
	}
	if cfg.Conversation.DefaultTopK == 0 {
		cfg.Conversation.DefaultTopK = 100
	}
	if cfg.Conversation.DefaultTemperature == 0 {
		cfg.Conversation.DefaultTemperature = 0.1
	}
	if cfg.Conversation.StreamBuffer == 0 {
		cfg.Conversation.StreamBuffer = 64
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if !oneOf(c.VectorStore.Provider, vectorStoreProviders) {
		return fmt.Errorf("unknown vectorstore provider %q (want one of %v)", c.VectorStore.Provider, vectorStoreProviders)
	}
	if !oneOf(c.Embeddings.Provider, embeddingProviders) {
		return fmt.Errorf("unknown embeddings provider %q (want one of %v)", c.Embeddings.Provider, embeddingProviders)
	}
	if !oneOf(c.Storage.Provider, storageProviders) {
		return fmt.Errorf("unknown storage provider %q (want one of %v)", c.Storage.Provider, storageProviders)
	}
	if c.Storage.Provider == "mongo" && !c.Storage.Mongo.URI.IsSet() {
		return errors.New("storage.mongo.uri is required when storage provider is mongo")
	}
	if c.Ingestion.BatchSize < 1 {
		return fmt.Errorf("ingestion batch_size must be positive, got %d", c.Ingestion.BatchSize)
	}
	if c.Conversation.DefaultTopK < 1 {
		return fmt.Errorf("conversation default_top_k must be positive, got %d", c.Conversation.DefaultTopK)
	}
	if c.Conversation.DefaultTemperature < 0 || c.Conversation.DefaultTemperature > 2 {
		return fmt.Errorf("conversation default_temperature must be within [0, 2], got %v", c.Conversation.DefaultTemperature)
	}
	if c.Translate.RequestsPerSecond < 0 {
		return errors.New("translate requests_per_second cannot be negative")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
