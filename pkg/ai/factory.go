package ai

import (
	"time"

	"go.uber.org/zap"
)

// Config holds inference provider configuration.
type Config struct {
	Provider ProviderType // "lmstudio", "ollama", "gemini" or "auto"

	LMStudioBaseURL string
	LMStudioModel   string

	OllamaBaseURL string
	OllamaModel   string

	GeminiAPIKey string
	GeminiModel  string

	Timeout time.Duration
}

// NewClient creates a Client based on the config. "auto" builds a fallback
// chain with LM Studio primary and, as secondary, Gemini when an API key is
// configured or Ollama otherwise.
func NewClient(cfg Config, log *zap.Logger) Client {
	switch cfg.Provider {
	case ProviderLMStudio:
		return NewLMStudioClient(cfg.LMStudioBaseURL, cfg.LMStudioModel, cfg.Timeout)
	case ProviderOllama:
		return NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout)
	case ProviderGemini:
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout)
	default:
		secondary := Client(NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout))
		if cfg.GeminiAPIKey != "" {
			secondary = NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout)
		}
		return NewFallbackClient(
			NewLMStudioClient(cfg.LMStudioBaseURL, cfg.LMStudioModel, cfg.Timeout),
			secondary,
			log,
		)
	}
}
