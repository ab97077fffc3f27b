package worker

import "time"

// State is a worker's lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateWaiting      State = "waiting"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Default goals shown in status output.
const (
	GoalStandby = "Standby"
	GoalStopped = "Stopped"
)

// Metrics are the per-worker counters reported in Status.
type Metrics struct {
	PacketsProcessed int64   `json:"packets_processed"`
	Errors           int64   `json:"errors"`
	AvgProcessingMs  float64 `json:"avg_processing_ms"`

	// succeeded counts the packets folded into AvgProcessingMs.
	succeeded int64
}

// Status is a point-in-time snapshot of a worker.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	Goal         string    `json:"goal"`
	LastActivity time.Time `json:"last_activity"`
	Metrics      Metrics   `json:"metrics"`
	Color        string    `json:"color,omitempty"`
}

// observe folds the duration of one successfully handled packet into the
// running average.
func (m *Metrics) observe(d time.Duration) {
	m.succeeded++
	ms := float64(d) / float64(time.Millisecond)
	m.AvgProcessingMs += (ms - m.AvgProcessingMs) / float64(m.succeeded)
}
