package config

import (
	"os"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig configures the generative-model provider used for semantic
// embeddings and the authenticity check.
type GeminiConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APIKeyEnv      string        `mapstructure:"api_key_env"` // Environment variable name for API key
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ResolveEnvVars loads the API key from APIKeyEnv when no direct value is set.
func (c *GeminiConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultGeminiBaseURL
	}
}

// Usable reports whether calls to the provider should be attempted at all.
// Offline mode or a missing credential both disable the provider.
func (c *GeminiConfig) Usable(offline bool) bool {
	return !offline && c.APIKey != ""
}
