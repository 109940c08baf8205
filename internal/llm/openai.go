package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIClient implements Client for OpenAI-compatible chat completion endpoints.
type OpenAIClient struct {
	client   *resty.Client
	config   *Config
	endpoint string
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(config *Config, apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIConfig().BaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+apiKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &OpenAIClient{
		client:   client,
		config:   config,
		endpoint: baseURL + "/chat/completions",
	}, nil
}

// GenerateContent generates text content for the request
func (c *OpenAIClient) GenerateContent(ctx context.Context, req Request) (string, error) {
	return c.complete(ctx, req, false)
}

// GenerateJSON generates JSON content for the request
func (c *OpenAIClient) GenerateJSON(ctx context.Context, req Request) (string, error) {
	text, err := c.complete(ctx, req, true)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request, jsonMode bool) (string, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", req.Tier)
	}

	body := chatRequest{
		Model:       modelName,
		Temperature: req.temperature(),
	}
	if req.SystemInstructions != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemInstructions})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Content})
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var result chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(c.endpoint)
	if err != nil {
		return "", &APICallError{Provider: ProviderOpenAI, Message: "request failed", Cause: err}
	}

	if resp.IsError() {
		msg := resp.Status()
		if result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		return "", &APICallError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode(), Message: msg}
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// GetModel returns the model name for a tier
func (c *OpenAIClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *OpenAIClient) Close() error {
	return nil
}
