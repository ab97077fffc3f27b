package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/coordinator"
	"github.com/dyluth/lodge/pkg/packet"
)

// maxLineBytes bounds one streamed packet; a page image can be large.
const maxLineBytes = 64 << 20

// Client talks to a running lodge server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets the server at baseURL, e.g. http://localhost:8000.
// Requests other than Analyze time out after 10 seconds.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// ServerURL turns a listen address such as ":8000" or "0.0.0.0:8000" into a
// URL a client on the same host can dial. Values with a scheme pass through.
func ServerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Health fetches /health. A 503 still decodes into the response and
// returns it alongside an error.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var health HealthResponse
	status, err := c.getJSON(ctx, "/health", &health)
	if err != nil {
		return health, err
	}
	if status != http.StatusOK {
		return health, fmt.Errorf("server is %s: %s", health.Status, health.Error)
	}
	return health, nil
}

// Agents fetches the worker roster.
func (c *Client) Agents(ctx context.Context) (AgentsResponse, error) {
	var agents AgentsResponse
	status, err := c.getJSON(ctx, "/api/v1/agents", &agents)
	if err != nil {
		return agents, err
	}
	if status != http.StatusOK {
		return agents, fmt.Errorf("server returned %d", status)
	}
	return agents, nil
}

// Analyze starts a round and calls emit for every streamed packet until the
// server closes the stream. A non-nil error from emit stops reading.
func (c *Client) Analyze(ctx context.Context, req coordinator.Request, emit coordinator.EmitFunc) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		p, err := packet.Unmarshal(line)
		if err != nil {
			return fmt.Errorf("bad packet in stream: %w", err)
		}
		if err := emit(p); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
