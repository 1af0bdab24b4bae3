// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/config"
)

// NewClient builds the tiered router from configuration. Each tier resolves
// its model config by name ("fast"/"powerful" map entries win over the
// default model names).
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newProviderClient(resolveModel(cfg.LLM, "fast", cfg.LLM.DefaultFastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerful, err := newProviderClient(resolveModel(cfg.LLM, "powerful", cfg.LLM.DefaultPowerfulModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}

func resolveModel(cfg config.LLMRouterConfig, tierName, defaultModel string) config.LLMModelConfig {
	if mc, ok := cfg.Models[tierName]; ok {
		if mc.Model == "" {
			mc.Model = defaultModel
		}
		return mc
	}
	return config.LLMModelConfig{Provider: config.ProviderGemini, Model: defaultModel}
}

func newProviderClient(mc config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch mc.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(mc, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q", mc.Provider)
	}
}
