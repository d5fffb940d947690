package ai

import (
	"github.com/pkg/errors"

	"github.com/hrygo/ragcache/internal/profile"
)

// EmbeddingConfig represents query/document embedding configuration.
type EmbeddingConfig struct {
	Provider   string // openai, siliconflow, ollama, gemini
	Model      string // text-embedding-3-small
	Dimensions int    // 768
	APIKey     string
	BaseURL    string

	// QueryPrefix and DocumentPrefix carry the task type for OpenAI-compatible
	// providers, which have no native task-type parameter.
	QueryPrefix    string
	DocumentPrefix string

	// RPS limits outbound embedding calls. Zero disables limiting.
	RPS   float64
	Burst int
}

// NewEmbeddingConfigFromProfile creates embedding config from profile.
func NewEmbeddingConfigFromProfile(p *profile.Profile) *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider:       p.EmbeddingProvider,
		Model:          p.EmbeddingModel,
		Dimensions:     p.EmbeddingDimensions,
		APIKey:         p.EmbeddingAPIKey,
		BaseURL:        p.EmbeddingBaseURL,
		QueryPrefix:    p.EmbeddingQueryPrefix,
		DocumentPrefix: p.EmbeddingDocumentPrefix,
		RPS:            p.EmbeddingRPS,
		Burst:          p.EmbeddingBurst,
	}
}

// Validate validates the configuration.
func (c *EmbeddingConfig) Validate() error {
	if c.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Model == "" {
		return errors.New("embedding model is required")
	}

	if c.Dimensions <= 0 {
		return errors.Errorf("embedding dimensions must be positive, got %d", c.Dimensions)
	}

	if c.Provider == "ollama" {
		if c.BaseURL == "" {
			return errors.New("ollama base URL is required")
		}
		return nil
	}

	if c.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	return nil
}
