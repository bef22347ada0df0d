package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

var defaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5-20250929",
	"openai":     "gpt-4o-mini",
	"openrouter": "anthropic/claude-sonnet-4-5-20250929",
}

// GenkitSummarizer sends completions through a Genkit instance initialised
// with a single provider plugin.
type GenkitSummarizer struct {
	g        *genkit.Genkit
	provider string
	model    string
	llmOn    bool
	logger   *slog.Logger
}

var _ Summarizer = (*GenkitSummarizer)(nil)

// NewGenkitSummarizer initialises Genkit for cfg.Provider. A missing API key
// does not fail construction: the summarizer is built disabled and every
// Complete call returns ErrNotConfigured, so tasks fail visibly instead of
// the daemon refusing to start.
func NewGenkitSummarizer(ctx context.Context, cfg Config, logger *slog.Logger) *GenkitSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	s := &GenkitSummarizer{provider: provider, model: model, logger: logger}

	if apiKey == "" {
		s.g = genkit.Init(ctx)
		logger.Warn("llm API key missing; summarization disabled", "provider", provider)
		return s
	}

	switch provider {
	case "anthropic":
		s.g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")),
		}))
		s.llmOn = true
	case "openai":
		s.g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")),
		}))
		s.llmOn = true
	case "openai_compatible":
		s.g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: cfg.CompatibleProvider,
			APIKey:   apiKey,
			BaseURL:  cfg.BaseURL,
		}))
		s.llmOn = true
	case "openrouter":
		s.g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openrouter",
			APIKey:   apiKey,
			BaseURL:  "https://openrouter.ai/api/v1",
		}))
		s.llmOn = true
	case "google":
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		s.g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel(modelNameForProvider(provider, model)),
		)
		s.llmOn = true
	default:
		s.g = genkit.Init(ctx)
		logger.Warn("unknown llm provider; summarization disabled", "provider", provider)
		return s
	}

	logger.Info("genkit summarizer initialized", "provider", provider, "model", s.ModelName())
	return s
}

// Enabled reports whether a provider plugin was initialised.
func (s *GenkitSummarizer) Enabled() bool { return s.llmOn }

// ModelName is the fully qualified model name passed to Genkit.
func (s *GenkitSummarizer) ModelName() string {
	return modelNameForProvider(s.provider, s.model)
}

func (s *GenkitSummarizer) Complete(ctx context.Context, system, user string, opts Options) (string, error) {
	if !s.llmOn {
		return "", ErrNotConfigured
	}

	// Escape % characters to prevent fmt.Sprintf corruption in ai.WithSystem().
	system = strings.ReplaceAll(system, "%", "%%")
	user = strings.ReplaceAll(user, "%", "%%")

	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.ModelName()),
		ai.WithSystem(system),
		ai.WithPrompt(user),
		ai.WithConfig(&ai.GenerationCommonConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generate (%s): %w", s.ModelName(), err)
	}
	return resp.Text(), nil
}

func defaultModelForProvider(provider string) string {
	if provider == "openai_compatible" {
		provider = "openai"
	}
	return defaultModels[provider]
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google", "":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
