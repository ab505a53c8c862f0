// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables
//  2. Config file (~/.aicore/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (API key, database password) are masked in MarshalJSON
// and String so the config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the AI API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidRAGTopK indicates the retrieval result count is out of range.
	ErrInvalidRAGTopK = errors.New("invalid rag top k")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidQueueSetting indicates a task queue setting is out of range.
	ErrInvalidQueueSetting = errors.New("invalid queue setting")

	// ErrInvalidAgentSetting indicates an agent setting is out of range.
	ErrInvalidAgentSetting = errors.New("invalid agent setting")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// AI endpoint configuration
	AIBaseURL     string  `mapstructure:"ai_base_url" json:"ai_base_url"`
	AIAPIKey      string  `mapstructure:"ai_api_key" json:"ai_api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	AITimeoutSec  int     `mapstructure:"ai_timeout_sec" json:"ai_timeout_sec"`

	// AIMaxRequestRate caps outbound AI requests per second. Zero disables
	// client-side pacing.
	AIMaxRequestRate float64 `mapstructure:"ai_max_request_rate" json:"ai_max_request_rate"`

	// Circuit breaker configuration
	BreakerFailureThreshold int `mapstructure:"breaker_failure_threshold" json:"breaker_failure_threshold"`
	BreakerResetSec         int `mapstructure:"breaker_reset_sec" json:"breaker_reset_sec"`

	// Rate limiting configuration
	RateLimit          int `mapstructure:"rate_limit" json:"rate_limit"`
	RateLimitWindowSec int `mapstructure:"rate_limit_window_sec" json:"rate_limit_window_sec"`

	// Retrieval configuration
	RAGTopK          int    `mapstructure:"rag_top_k" json:"rag_top_k"`
	RAGCollection    string `mapstructure:"rag_collection" json:"rag_collection"`
	ExpansionModel   string `mapstructure:"expansion_model" json:"expansion_model"`
	MemoryCollection string `mapstructure:"memory_collection" json:"memory_collection"`

	// Task queue configuration
	QueueMaxRetries   int `mapstructure:"queue_max_retries" json:"queue_max_retries"`
	QueueBatchSize    int `mapstructure:"queue_batch_size" json:"queue_batch_size"`
	QueuePollMs       int `mapstructure:"queue_poll_ms" json:"queue_poll_ms"`
	QueueClaimTTLSec  int `mapstructure:"queue_claim_ttl_sec" json:"queue_claim_ttl_sec"`
	QueueResultTTLSec int `mapstructure:"queue_result_ttl_sec" json:"queue_result_ttl_sec"`

	// Agent configuration
	MaxIterations      int `mapstructure:"max_iterations" json:"max_iterations"`
	MaxHistoryMessages int `mapstructure:"max_history_messages" json:"max_history_messages"`
	ToolTimeoutSec     int `mapstructure:"tool_timeout_sec" json:"tool_timeout_sec"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".aicore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has the highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// AI defaults
	viper.SetDefault("ai_base_url", "https://api.openai.com/v1")
	viper.SetDefault("model_name", "gpt-4o-mini")
	viper.SetDefault("embedder_model", "text-embedding-3-small")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("ai_timeout_sec", 60)
	viper.SetDefault("ai_max_request_rate", 10.0)

	// Circuit breaker defaults
	viper.SetDefault("breaker_failure_threshold", 5)
	viper.SetDefault("breaker_reset_sec", 30)

	// Rate limit defaults
	viper.SetDefault("rate_limit", 60)
	viper.SetDefault("rate_limit_window_sec", 60)

	// Retrieval defaults
	viper.SetDefault("rag_top_k", 5)
	viper.SetDefault("rag_collection", "knowledge")
	viper.SetDefault("expansion_model", "gpt-4o-mini")
	viper.SetDefault("memory_collection", "memories")

	// Queue defaults
	viper.SetDefault("queue_max_retries", 3)
	viper.SetDefault("queue_batch_size", 1)
	viper.SetDefault("queue_poll_ms", 100)
	viper.SetDefault("queue_claim_ttl_sec", 60)
	viper.SetDefault("queue_result_ttl_sec", 300)

	// Agent defaults
	viper.SetDefault("max_iterations", 10)
	viper.SetDefault("max_history_messages", 20)
	viper.SetDefault("tool_timeout_sec", 12)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "aicore")
	viper.SetDefault("postgres_password", "aicore_dev_password")
	viper.SetDefault("postgres_db_name", "aicore")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a bind error here is a bug, so panic.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ai_api_key", "OPENAI_API_KEY")
	mustBind("ai_base_url", "AICORE_BASE_URL")
	mustBind("model_name", "AICORE_MODEL_NAME")
	mustBind("embedder_model", "AICORE_EMBEDDER_MODEL")
	mustBind("rate_limit", "AICORE_RATE_LIMIT")
	mustBind("ai_max_request_rate", "AICORE_AI_MAX_REQUEST_RATE")
	mustBind("max_iterations", "AICORE_MAX_ITERATIONS")
}

// maskedValue uses full-width blocks so masked output can never be a
// substring of the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.AIAPIKey = maskSecret(a.AIAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
