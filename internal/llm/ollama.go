package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OllamaClient handles communication with Ollama API for local LLM inference.
// It wraps all HTTP calls with circuit breaker protection to prevent cascading failures.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	streamClient   *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
	format         string
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use for completions and embeddings (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout duration for non-streaming calls (default: 60s)
	Timeout time.Duration

	// JSONMode sets format=json on Chat requests.
	JSONMode bool

	Logger *zap.Logger
}

// ollamaChatRequest represents the request body for /api/chat.
type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

// ollamaChatResponse is both the full reply and one NDJSON line of a streamed reply.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// embedRequest represents the request body for /api/embed endpoint
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse represents the response from /api/embed endpoint.
// The embeddings field is a 2D array; we always use the first (and only) embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	c := &OllamaClient{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		streamClient:   &http.Client{},
		circuitBreaker: NewCircuitBreaker("ollama", config.Logger),
		model:          config.Model,
		timeout:        config.Timeout,
	}
	if config.JSONMode {
		c.format = "json"
	}
	return c
}

// Chat sends a non-streaming chat request to Ollama and returns the reply text.
func (c *OllamaClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, msgs)
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}

	return result.(string), nil
}

// chat is the internal implementation of Chat without circuit breaker wrapping
func (c *OllamaClient) chat(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, c.client, "/api/chat", ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   false,
		Format:   c.format,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var respData ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if respData.Error != "" {
		return "", fmt.Errorf("ollama error: %s", respData.Error)
	}

	return respData.Message.Content, nil
}

// ChatStream streams a reply as newline-delimited JSON, calling onChunk with
// every content delta.
func (c *OllamaClient) ChatStream(ctx context.Context, msgs []Message, onChunk func(string) error) error {
	err := c.circuitBreaker.Run(ctx, func() error {
		return c.chatStream(ctx, msgs, onChunk)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("ollama circuit breaker open: %w", err)
	}
	return unwrapAbort(err)
}

func (c *OllamaClient) chatStream(ctx context.Context, msgs []Message, onChunk func(string) error) error {
	resp, err := c.post(ctx, c.streamClient, "/api/chat", ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readNDJSON(resp.Body, func(line []byte) error {
		var part ollamaChatResponse
		if err := json.Unmarshal(line, &part); err != nil {
			return fmt.Errorf("failed to decode stream line: %w", err)
		}
		if part.Error != "" {
			return fmt.Errorf("ollama stream error: %s", part.Error)
		}
		if err := deliver(onChunk, part.Message.Content); err != nil {
			return err
		}
		if part.Done {
			return io.EOF
		}
		return nil
	})
}

// Embed generates embeddings for the given text using the configured model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}

	return result.([]float32), nil
}

// embed is the internal implementation of Embed without circuit breaker wrapping
func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, c.client, "/api/embed", embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding vector: %w", ErrEmptyResponse)
	}

	return respData.Embeddings[0], nil
}

func (c *OllamaClient) post(ctx context.Context, client *http.Client, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("ollama", resp)
	}
	return resp, nil
}

// HealthCheck verifies that Ollama is reachable by checking the /api/version endpoint.
// This does not use circuit breaker protection since it's a health check itself.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("ollama health check", resp)
	}

	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Compile-time assertions that OllamaClient satisfies both LLM interfaces.
var _ ChatProvider = (*OllamaClient)(nil)
var _ EmbeddingGenerator = (*OllamaClient)(nil)
