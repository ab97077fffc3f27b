// Package generation talks to the external text-generation gateway used by
// the HARVESTER stage. The gateway exposes an OpenAI-compatible
// /v1/chat/completions endpoint.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMissingCredentials is returned when no API key is configured.
var ErrMissingCredentials = errors.New("generation service credentials missing")

// Default settings.
const (
	DefaultGatewayURL = "http://localhost:8080"
	DefaultModel      = "gpt-4-turbo-preview"
	DefaultTimeout    = 60 * time.Second
)

// Config configures the gateway client.
type Config struct {
	GatewayURL string        `yaml:"gateway_url" mapstructure:"gateway_url"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model      string        `yaml:"model" mapstructure:"model"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries uint64        `yaml:"max_retries" mapstructure:"max_retries"`
}

// DefaultConfig returns the gateway defaults without credentials.
func DefaultConfig() Config {
	return Config{
		GatewayURL: DefaultGatewayURL,
		Model:      DefaultModel,
		Timeout:    DefaultTimeout,
		MaxRetries: 2,
	}
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client calls the generation gateway. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client. Missing fields fall back to DefaultConfig.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = def.GatewayURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// CheckCredentials reports ErrMissingCredentials when no API key is set.
func (c *Client) CheckCredentials() error {
	if c.cfg.APIKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

// ChatCompletion sends messages and returns the content of the first choice.
// Server errors and network failures are retried with exponential backoff;
// client errors are not.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	if err := c.CheckCredentials(); err != nil {
		return "", err
	}

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: 0.1,
	}
	if jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var content string
	operation := func() error {
		out, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		content = out
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build gateway request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", backoff.Permanent(fmt.Errorf("%w: gateway returned %d", ErrMissingCredentials, resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		log.Printf("[Generation] Gateway returned %d, retrying", resp.StatusCode)
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	case resp.StatusCode >= 400:
		return "", backoff.Permanent(fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("invalid gateway response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gateway response contained no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
