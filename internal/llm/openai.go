package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIClient talks to the OpenAI API (or any compatible endpoint) for chat
// completions and embeddings. Requests are rate-limited client-side and run
// through the circuit breaker with a per-request timeout.
type OpenAIClient struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
	model          string
	embedModel     string
	timeout        time.Duration
}

// OpenAIConfig holds OpenAI client configuration.
type OpenAIConfig struct {
	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the chat model (default: gpt-4o-mini).
	Model string

	// EmbedModel is the embedding model (default: text-embedding-3-small).
	EmbedModel string

	// Timeout is the per-request deadline (default: 60s).
	Timeout time.Duration

	// RequestsPerSecond caps the client-side request rate (default: 3).
	RequestsPerSecond float64
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIClient creates an OpenAI client, filling unset config fields with
// the defaults documented on OpenAIConfig.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 3
	}

	return &OpenAIClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		apiKey:         config.APIKey,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker(),
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		model:          config.Model,
		embedModel:     config.EmbedModel,
		timeout:        config.Timeout,
	}, nil
}

// Complete sends a chat completion request and returns the response text.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("openai rate limit wait: %w", err)
	}
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("openai: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData openAIChatResponse
	err := c.postJSON(ctx, "/chat/completions", openAIChatRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}, &respData)
	if err != nil {
		return "", wrapTimeout(err, "openai complete")
	}
	if len(respData.Choices) == 0 || strings.TrimSpace(respData.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai complete: %w", ErrEmptyResponse)
	}
	return respData.Choices[0].Message.Content, nil
}

// Embed generates an embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openai rate limit wait: %w", err)
	}
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (c *OpenAIClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData openAIEmbedResponse
	err := c.postJSON(ctx, "/embeddings", openAIEmbedRequest{
		Model: c.embedModel,
		Input: text,
	}, &respData)
	if err != nil {
		return nil, wrapTimeout(err, "openai embed")
	}
	if len(respData.Data) == 0 || len(respData.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: %w", ErrEmptyResponse)
	}
	return respData.Data[0].Embedding, nil
}

// GetModel returns the configured chat model name.
func (c *OpenAIClient) GetModel() string { return c.model }

func (c *OpenAIClient) postJSON(ctx context.Context, path string, reqBody, respData interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Provider: "openai", Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(respData); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	_ TextGenerator      = (*OpenAIClient)(nil)
	_ EmbeddingGenerator = (*OpenAIClient)(nil)
)
