package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/coordinator"
	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/packet"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status          string              `json:"status"`
	Transport       string              `json:"transport"`
	TransportStatus string              `json:"transport_status"`
	Workers         []worker.Status     `json:"workers"`
	ActiveRounds    []coordinator.Round `json:"active_rounds"`
	Error           string              `json:"error,omitempty"`
}

// AgentsResponse lists every worker's status.
type AgentsResponse struct {
	Agents []worker.Status `json:"agents"`
}

// HistoryResponse carries recent bus packets, oldest first.
type HistoryResponse struct {
	Packets []packet.Packet `json:"packets"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// healthHandler handles GET /health with every worker's status and the rounds
// in flight. Returns 200 OK if the transport is reachable, 503 Service
// Unavailable otherwise.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:       "healthy",
		Transport:    s.bus.TransportName(),
		Workers:      s.statuses(),
		ActiveRounds: []coordinator.Round{},
	}
	if s.rounds != nil {
		response.ActiveRounds = s.rounds.ActiveRounds()
	}

	if err := s.bus.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.TransportStatus = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.TransportStatus = "connected"
	writeJSON(w, http.StatusOK, response)
}

// analyzeHandler handles POST /api/v1/analyze. The response is a stream of
// newline-delimited packets, one per line, flushed as they are produced.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, "this process runs no coordinator")
		return
	}

	var req coordinator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Input.Text) == "" && req.Input.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "input_payload must include text or image_base64")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	stream := newStream(w)
	round, err := s.rounds.Run(r.Context(), req, stream.write)
	if err == nil {
		return
	}

	if r.Context().Err() != nil || errors.Is(err, coordinator.ErrStreamClosed) {
		log.Printf("[API] Client left during round %s: %v", round.ID, err)
		return
	}

	log.Printf("[API] Round %s failed: %v", round.ID, err)
	failure := packet.New(packet.PartySystem, packet.IntentError, packet.WithContent(packet.Content{
		Log:     fmt.Sprintf("Round failed: %v", err),
		RoundID: round.ID,
		Error:   err.Error(),
	}))
	if werr := stream.write(failure); werr != nil {
		log.Printf("[API] Failed to write terminal error: %v", werr)
	}
}

// agentsHandler handles GET /api/v1/agents.
func (s *Server) agentsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AgentsResponse{Agents: s.statuses()})
}

func (s *Server) statuses() []worker.Status {
	if s.workers == nil {
		return []worker.Status{}
	}
	return s.workers.Statuses()
}

// historyHandler handles GET /api/v1/history?limit=N.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q: must be a non-negative integer", raw))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Packets: s.bus.History(limit)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
