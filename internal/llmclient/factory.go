// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// NewClient builds one client per tier and wraps them in an LLMRouter. When
// both tiers name the same model a single client serves both.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*LLMRouter, error) {
	fastCfg := resolveModel(cfg.LLM, cfg.LLM.DefaultFastModel)
	powerfulCfg := resolveModel(cfg.LLM, cfg.LLM.DefaultPowerfulModel)

	fast, err := NewProviderClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful := fast
	if powerfulCfg != fastCfg {
		if powerful, err = NewProviderClient(ctx, powerfulCfg, logger); err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
	}
	return NewLLMRouter(logger, fast, powerful)
}

// NewProviderClient creates the client for a single model configuration.
func NewProviderClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGoogleClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewEndpointClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderOllama)
	}
}

// resolveModel looks name up in the models map. Unlisted names are treated
// as Gemini model ids keyed from the environment.
func resolveModel(router config.LLMRouterConfig, name string) config.LLMModelConfig {
	if m, ok := router.Models[name]; ok {
		if m.Model == "" {
			m.Model = name
		}
		return m
	}
	return config.LLMModelConfig{
		Provider: config.ProviderGemini,
		Model:    name,
		APIKey:   firstNonEmpty(os.Getenv("AUTOAPPLY_GEMINI_API_KEY"), os.Getenv("GEMINI_API_KEY")),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
