package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
)

// BusSource reads history from an in-process bus.
type BusSource struct {
	Bus *bus.Bus
}

func (s BusSource) History(_ context.Context, limit int) ([]packet.Packet, error) {
	return s.Bus.History(limit), nil
}

func (s BusSource) Describe() string {
	return s.Bus.TransportName() + " bus"
}

// HTTPSource reads history from a running lodge server.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource targets the server at baseURL, e.g. http://localhost:8000.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Describe() string {
	return s.baseURL
}

func (s *HTTPSource) History(ctx context.Context, limit int) ([]packet.Packet, error) {
	u := s.baseURL + "/api/v1/history"
	if limit > 0 {
		u += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}

	var body struct {
		Packets []packet.Packet `json:"packets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return body.Packets, nil
}
