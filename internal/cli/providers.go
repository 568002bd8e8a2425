package cli

import (
	"context"
	"strings"

	"github.com/suPer8Hu/keystone/internal/ai"
	"github.com/suPer8Hu/keystone/internal/config"
)

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("static", func(context.Context, string) (ai.Provider, error) {
		return ai.StaticProvider{Reply: cfg.StaticReply}, nil
	})
	return reg
}
