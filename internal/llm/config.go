// Package llm wraps the AI collaborator that analyzes documents and scores submissions.
package llm

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ModelTier selects how capable (and how costly) a model a call gets.
type ModelTier string

// Model tiers, cheapest first.
const (
	TierLite     ModelTier = "lite"
	TierStandard ModelTier = "standard"
	TierAdvanced ModelTier = "advanced"
)

// Provider names a collaborator backend.
type Provider string

// Supported providers. ProviderOpenAI covers any OpenAI-compatible chat completions endpoint.
const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// ParseProvider maps a configured provider name onto a Provider. Empty means Gemini.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return ProviderGemini, nil
	case ProviderGemini, ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("unknown llm provider %q", name)
	}
}

// Config is the per-provider model table.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
	// BaseURL and Timeout apply to the OpenAI-compatible transport only.
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig is the Gemini model table.
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the Gemini model table.
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// DefaultOpenAIConfig returns the model table for api.openai.com.
func DefaultOpenAIConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Models: map[ModelTier]string{
			TierLite:     "gpt-4o-mini",
			TierStandard: "gpt-4o-mini",
			TierAdvanced: "gpt-4o",
		},
		BaseURL: "https://api.openai.com/v1",
		Timeout: 120 * time.Second,
	}
}

// ForProvider returns the default table for p.
func ForProvider(p Provider) (*Config, error) {
	switch p {
	case ProviderGemini:
		return DefaultGeminiConfig(), nil
	case ProviderOpenAI:
		return DefaultOpenAIConfig(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p)
	}
}

// GetModel returns the model for tier. A tier with no entry borrows the nearest
// cheaper tier that has one; an empty result means nothing is configured.
func (c *Config) GetModel(tier ModelTier) string {
	if model := c.Models[tier]; model != "" {
		return model
	}
	for _, t := range []ModelTier{TierStandard, TierLite} {
		if model := c.Models[t]; model != "" {
			return model
		}
	}
	return ""
}

// Override returns a copy of c with the non-empty entries of models replacing the defaults.
func (c *Config) Override(models map[ModelTier]string) *Config {
	out := *c
	out.Models = maps.Clone(c.Models)
	if out.Models == nil {
		out.Models = make(map[ModelTier]string, len(models))
	}
	for tier, model := range models {
		if model = strings.TrimSpace(model); model != "" {
			out.Models[tier] = model
		}
	}
	return &out
}

// Validate reports a table that cannot serve any call.
func (c *Config) Validate() error {
	if _, err := ForProvider(c.Provider); err != nil {
		return err
	}
	if c.GetModel(TierAdvanced) == "" {
		return fmt.Errorf("no models configured for provider %s", c.Provider)
	}
	if c.Provider == ProviderOpenAI && c.BaseURL == "" {
		return fmt.Errorf("base URL is required for provider %s", c.Provider)
	}
	return nil
}
