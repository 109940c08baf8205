package llm

import (
	"context"
	"fmt"
)

// DefaultTemperature keeps collaborator output stable across calls.
const DefaultTemperature float32 = 0.1

// Request is a single collaborator call.
type Request struct {
	SystemInstructions string
	Content            string
	Temperature        float32
	Tier               ModelTier
}

func (r Request) temperature() float32 {
	if r.Temperature == 0 {
		return DefaultTemperature
	}
	return r.Temperature
}

// Client is the collaborator seen by the analyzer and the assessment engine.
type Client interface {
	// GenerateContent returns the raw text reply.
	GenerateContent(ctx context.Context, req Request) (string, error)
	// GenerateJSON asks for a JSON reply and strips any code fence around it.
	GenerateJSON(ctx context.Context, req Request) (string, error)
	GetModel(tier ModelTier) string
	Close() error
}

// NewClient builds the client for config.Provider. A nil config means DefaultConfig.
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", config.Provider)
	}

	if config.Provider == ProviderOpenAI {
		return NewOpenAIClient(config, apiKey)
	}
	return NewGeminiClient(ctx, config, apiKey)
}
