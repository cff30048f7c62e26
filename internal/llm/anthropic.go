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

	"go.uber.org/zap"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	Model     string        // default: claude-haiku-4-5-20251001
	BaseURL   string        // default: https://api.anthropic.com
	Timeout   time.Duration // default: 60s, applies to non-streaming calls
	MaxTokens int           // default: 4096
	Logger    *zap.Logger
}

// AnthropicClient implements ChatProvider using the Anthropic Messages API.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         *http.Client
	streamClient   *http.Client
	circuitBreaker *CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		streamClient:   &http.Client{},
		circuitBreaker: NewCircuitBreaker("anthropic", cfg.Logger),
	}
}

// anthropicMessagesRequest is the request body for POST /v1/messages.
type anthropicMessagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

// anthropicMessagesResponse is the response body from POST /v1/messages.
type anthropicMessagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// splitSystem moves system messages into the top-level system field, which is
// where the Messages API expects them.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func (c *AnthropicClient) request(msgs []Message, stream bool) anthropicMessagesRequest {
	system, rest := splitSystem(msgs)
	return anthropicMessagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    system,
		Messages:  rest,
		Stream:    stream,
	}
}

// Chat sends the messages to Anthropic and returns the response text.
func (c *AnthropicClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, msgs)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *AnthropicClient) chat(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(ctx, c.client, c.request(msgs, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var respData anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Content) == 0 {
		return "", fmt.Errorf("anthropic returned empty content: %w", ErrEmptyResponse)
	}

	return respData.Content[0].Text, nil
}

// ChatStream streams a reply, calling onChunk with every text delta.
func (c *AnthropicClient) ChatStream(ctx context.Context, msgs []Message, onChunk func(string) error) error {
	err := c.circuitBreaker.Run(ctx, func() error {
		return c.chatStream(ctx, msgs, onChunk)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("anthropic circuit breaker open: %w", err)
	}
	return unwrapAbort(err)
}

func (c *AnthropicClient) chatStream(ctx context.Context, msgs []Message, onChunk func(string) error) error {
	resp, err := c.post(ctx, c.streamClient, c.request(msgs, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readSSE(resp.Body, func(_, data string) error {
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" || ev.Delta.Type == "" {
				return deliver(onChunk, ev.Delta.Text)
			}
		case "message_stop":
			return io.EOF
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return fmt.Errorf("anthropic stream error: %s", msg)
		}
		return nil
	})
}

func (c *AnthropicClient) post(ctx context.Context, client *http.Client, body anthropicMessagesRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("anthropic", resp)
	}
	return resp, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ ChatProvider = (*AnthropicClient)(nil)
