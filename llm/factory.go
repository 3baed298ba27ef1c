package llm

import (
	"context"
	"fmt"

	"github.com/kasuganosora/aiquest/config"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"
	ProviderNone       = "none"
)

// ResolveProvider returns the provider name to use, or "" when AI is off.
// With no explicit choice the first provider holding a key wins.
func ResolveProvider(cfg config.AIConfig) string {
	switch cfg.Provider {
	case ProviderNone:
		return ""
	case "":
	default:
		return cfg.Provider
	}
	switch {
	case cfg.OpenAI.APIKey != "":
		return ProviderOpenAI
	case cfg.Anthropic.APIKey != "":
		return ProviderAnthropic
	case cfg.Gemini.APIKey != "":
		return ProviderGemini
	case cfg.OpenRouter.APIKey != "":
		return ProviderOpenRouter
	}
	return ""
}

// NewProvider creates the configured Provider wrapped with logging and the
// request timeout. It returns (nil, "", nil) when no provider is configured.
func NewProvider(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (Provider, string, error) {
	name := ResolveProvider(cfg)

	var (
		base Provider
		err  error
	)
	switch name {
	case "":
		return nil, "", nil
	case ProviderOpenAI:
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case ProviderAnthropic:
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case ProviderGemini:
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case ProviderOpenRouter:
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case ProviderMock:
		base = NewMockProvider()
	default:
		return nil, "", fmt.Errorf("unknown LLM provider: %q", name)
	}
	if err != nil {
		return nil, "", fmt.Errorf("initializing %s provider: %w", name, err)
	}

	// caller → timeout → logging → base
	return WithTimeout(WithLogging(base, name, logger), cfg.Timeout), name, nil
}
