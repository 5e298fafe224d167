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
)

// OllamaClient talks to a local Ollama server for completions and
// embeddings. Every call runs through the circuit breaker and carries a
// per-request timeout.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	embedModel     string
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the completion model (default: llama3.2).
	Model string

	// EmbedModel is the embedding model (default: nomic-embed-text).
	EmbedModel string

	// Timeout is the per-request deadline (default: 30s).
	Timeout time.Duration
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// Embeddings is a 2D array; single-input requests use the first row.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates an Ollama client, filling unset config fields with
// the defaults documented on OllamaConfig.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "llama3.2"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker(),
		model:          config.Model,
		embedModel:     config.EmbedModel,
		timeout:        config.Timeout,
	}
}

// Complete sends a completion request and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData ollamaGenerateResponse
	err := c.postJSON(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}, &respData)
	if err != nil {
		return "", wrapTimeout(err, "ollama complete")
	}
	if strings.TrimSpace(respData.Response) == "" {
		return "", fmt.Errorf("ollama complete: %w", ErrEmptyResponse)
	}
	return respData.Response, nil
}

// Embed generates an embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData ollamaEmbedResponse
	err := c.postJSON(ctx, "/api/embed", ollamaEmbedRequest{
		Model: c.embedModel,
		Input: text,
	}, &respData)
	if err != nil {
		return nil, wrapTimeout(err, "ollama embed")
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: %w", ErrEmptyResponse)
	}
	return respData.Embeddings[0], nil
}

// HealthCheck verifies the server is reachable. It bypasses the circuit
// breaker since it is itself the probe.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return wrapTimeout(err, "ollama health check")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Provider: "ollama", Code: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// GetModel returns the configured completion model name.
func (c *OllamaClient) GetModel() string { return c.model }

func (c *OllamaClient) postJSON(ctx context.Context, path string, reqBody, respData interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Provider: "ollama", Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(respData); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)
