package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Environment variables holding provider credentials
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// New creates a provider with explicit configuration
func New(cfg Config) (Provider, error) {
	opts := HTTPOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(opts)
	case ProviderJina:
		return NewJinaProvider(opts)
	case ProviderGemini:
		return NewGeminiProvider(opts)
	case ProviderLocal, "":
		return NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DefaultDimension returns the native dimensionality of a provider's
// default model, or 0 for unknown providers.
func DefaultDimension(provider string) int {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return OpenAIDimension
	case ProviderJina:
		return JinaDimension
	case ProviderGemini:
		return GeminiDimension
	case ProviderLocal, "":
		return LocalDimension
	}
	return 0
}

// APIKeyEnv returns the environment variable consulted for a provider key
func APIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderJina:
		return EnvJinaAPIKey
	case ProviderGemini:
		return EnvGeminiAPIKey
	}
	return ""
}
