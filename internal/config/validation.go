package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values. Returns sentinel errors that can
// be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// AI endpoint
	if c.AIAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY or ai_api_key in config.yaml", ErrMissingAPIKey)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 128000 {
		return fmt.Errorf("%w: must be between 1 and 128,000, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.AIMaxRequestRate < 0 {
		return fmt.Errorf("%w: ai_max_request_rate cannot be negative, got %.2f", ErrInvalidRateLimit, c.AIMaxRequestRate)
	}

	// Rate limiting
	if c.RateLimit < 1 {
		return fmt.Errorf("%w: rate_limit must be at least 1, got %d", ErrInvalidRateLimit, c.RateLimit)
	}
	if c.RateLimitWindowSec < 1 {
		return fmt.Errorf("%w: rate_limit_window_sec must be at least 1, got %d", ErrInvalidRateLimit, c.RateLimitWindowSec)
	}

	// Retrieval
	if c.RAGTopK <= 0 || c.RAGTopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidRAGTopK, c.RAGTopK)
	}

	// Queue
	if c.QueueMaxRetries < 0 || c.QueueMaxRetries > 10 {
		return fmt.Errorf("%w: queue_max_retries must be between 0 and 10, got %d", ErrInvalidQueueSetting, c.QueueMaxRetries)
	}
	if c.QueueBatchSize < 1 || c.QueueBatchSize > 100 {
		return fmt.Errorf("%w: queue_batch_size must be between 1 and 100, got %d", ErrInvalidQueueSetting, c.QueueBatchSize)
	}
	if c.QueuePollMs < 10 {
		return fmt.Errorf("%w: queue_poll_ms must be at least 10, got %d", ErrInvalidQueueSetting, c.QueuePollMs)
	}

	// Agent
	if c.MaxIterations < 1 || c.MaxIterations > 20 {
		return fmt.Errorf("%w: max_iterations must be between 1 and 20, got %d", ErrInvalidAgentSetting, c.MaxIterations)
	}
	if c.MaxHistoryMessages < 1 || c.MaxHistoryMessages > 200 {
		return fmt.Errorf("%w: max_history_messages must be between 1 and 200, got %d", ErrInvalidAgentSetting, c.MaxHistoryMessages)
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "aicore_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
