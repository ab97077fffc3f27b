package coordinator

import (
	"sync"
	"time"

	"github.com/dyluth/lodge/pkg/packet"
)

// RoundStatus is the lifecycle state of a Round.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
	RoundError     RoundStatus = "error"
)

// Round is one pass of a unit of work through the pipeline.
// Rounds are owned by the Coordinator; callers receive copies.
type Round struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	StartedAt   time.Time   `json:"started_at"`
	Status      RoundStatus `json:"status"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	PacketCount int         `json:"packet_count"`
	Stages      []string    `json:"stages"`
	Stage       string      `json:"current_stage,omitempty"`
}

// Request is one externally triggered unit of work.
type Request struct {
	Input      packet.Page `json:"input_payload"`
	Exclusions []string    `json:"exclusions"`
}

// EmitFunc receives every packet of a round's stream. A returned error means
// the caller has gone away and the round is cancelled.
type EmitFunc func(p packet.Packet) error

// inbox buffers round-scoped packets delivered by the bus until the round
// loop picks them up.
type inbox struct {
	mu     sync.Mutex
	items  []packet.Packet
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (in *inbox) push(p packet.Packet) {
	in.mu.Lock()
	in.items = append(in.items, p)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) drain() []packet.Packet {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := in.items
	in.items = nil
	return items
}
