// Package llm implements the summarization collaborator on top of Genkit.
package llm

import (
	"context"
	"errors"
)

// Options carries the per-call generation parameters.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Summarizer is the narrow contract the task runner depends on: one system
// instruction and one user message in, free text out.
type Summarizer interface {
	Complete(ctx context.Context, system, user string, opts Options) (string, error)
}

// ErrNotConfigured is returned when the configured provider has no API key
// or is not recognised. It is permanent; retrying cannot help.
var ErrNotConfigured = errors.New("llm provider not configured")

// Config selects the hosted model provider.
type Config struct {
	// Provider is one of google, anthropic, openai, openai_compatible,
	// openrouter. Empty means google.
	Provider string
	Model    string
	// APIKey overrides the provider's environment variable.
	APIKey string
	// BaseURL is used by anthropic, openai and openai_compatible.
	BaseURL string
	// CompatibleProvider names the openai_compatible backend.
	CompatibleProvider string
}
