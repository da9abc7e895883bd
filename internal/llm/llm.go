// Package llm provides the inference completers the router decides
// with: a local Ollama instance through its OpenAI-compatible endpoint,
// plus Anthropic and Gemini for devices that can reach a hosted model.
package llm

import (
	"context"
	"fmt"

	"piebrain/internal/config"
	"piebrain/internal/router"
)

// New builds the completer selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (router.Completer, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key")
		}
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an api key")
		}
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
