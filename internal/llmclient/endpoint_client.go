// internal/llmclient/endpoint_client.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
)

// EndpointClient speaks the chat-completions protocol shared by OpenAI and
// OpenAI-compatible servers such as Ollama.
type EndpointClient struct {
	http   *resty.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewEndpointClient builds a client for an OpenAI-compatible endpoint.
func NewEndpointClient(cfg config.LLMModelConfig, logger *zap.Logger) (*EndpointClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required for provider %q", cfg.Provider)
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		switch cfg.Provider {
		case config.ProviderOllama:
			baseURL = defaultOllamaBaseURL
		default:
			baseURL = defaultOpenAIBaseURL
		}
	}
	if cfg.Provider == config.ProviderOpenAI && cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &EndpointClient{
		http:   client,
		config: cfg,
		logger: logger.Named("llm_client." + string(cfg.Provider)),
	}, nil
}

// Generate posts a chat completion and returns the first choice's content.
func (c *EndpointClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := chatRequest{
		Model:       c.config.Model,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   c.config.MaxTokens,
	}
	if payload.Temperature == 0 {
		payload.Temperature = float64(c.config.Temperature)
	}
	if req.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if req.Options.ForceJSONFormat {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	startTime := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("LLM endpoint returned error status",
			zap.Int("status", resp.StatusCode()),
			zap.String("response", resp.String()))
		return "", fmt.Errorf("LLM endpoint error: status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("LLM endpoint returned no content")
	}

	c.logger.Debug("LLM generation complete",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
	)
	return out.Choices[0].Message.Content, nil
}

// Close releases idle connections held by the transport.
func (c *EndpointClient) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}
