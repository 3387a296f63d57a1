package ai

import "context"

// Client is the transport-level interface to an inference provider. It
// returns the model's raw text output; schema validation and parsing belong
// to the caller, never to the transport.
// Implement this interface to add new providers (LM Studio, Ollama, etc.)
type Client interface {
	Classify(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ProviderType represents the AI provider type.
type ProviderType string

const (
	ProviderLMStudio ProviderType = "lmstudio"
	ProviderOllama   ProviderType = "ollama"
	ProviderGemini   ProviderType = "gemini"
	ProviderAuto     ProviderType = "auto"
)
