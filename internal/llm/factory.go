package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderConfig selects and configures one chat or embedding backend.
type ProviderConfig struct {
	Provider string // openai | anthropic | ollama | hash (embeddings only)
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	JSONMode bool
	// Dimensions is used by the hash embedder only.
	Dimensions int
}

// NewChatProvider creates the ChatProvider named by cfg.Provider.
func NewChatProvider(cfg ProviderConfig, logger *zap.Logger) (ChatProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			JSONMode: cfg.JSONMode,
			Logger:   logger,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
			JSONMode: cfg.JSONMode,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator named by cfg.Provider.
// Anthropic has no embeddings API and is rejected.
func NewEmbeddingGenerator(cfg ProviderConfig, logger *zap.Logger) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model, Timeout: cfg.Timeout, Logger: logger}), nil
	case "hash", "":
		return NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
