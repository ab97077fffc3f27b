package agents

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/bus"
)

// Worker is the lifecycle surface shared by stage workers and the observer.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Status() worker.Status
}

// RosterConfig selects which workers run and how they behave.
type RosterConfig struct {
	// Stages lists the stage workers to run. Unknown names are rejected.
	Stages              []string
	ConfidenceThreshold float64
	Options             []worker.Option
}

// Roster owns the workers of one process.
type Roster struct {
	workers []Worker
}

// NewRoster builds the configured stage workers plus the observer.
func NewRoster(b *bus.Bus, ex Extractor, cfg RosterConfig) (*Roster, error) {
	r := &Roster{}
	for _, name := range cfg.Stages {
		task, err := stageTask(name, ex, cfg.ConfidenceThreshold)
		if err != nil {
			return nil, err
		}
		opts := append([]worker.Option{worker.WithColor(Colors[name])}, cfg.Options...)
		r.workers = append(r.workers, worker.NewStageWorker(name, b, task, opts...))
	}
	r.workers = append(r.workers, NewObserver(b, cfg.Options...))
	return r, nil
}

func stageTask(name string, ex Extractor, threshold float64) (worker.Task, error) {
	switch name {
	case Harvester:
		if ex == nil {
			return nil, fmt.Errorf("%s requires a concept extractor", name)
		}
		return HarvesterTask(ex), nil
	case Architect:
		return ArchitectTask(), nil
	case Curator:
		return CuratorTask(), nil
	case Critic:
		return CriticTask(threshold), nil
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

// IsStage reports whether name is a stage this package can run.
func IsStage(name string) bool {
	switch name {
	case Harvester, Architect, Curator, Critic:
		return true
	}
	return false
}

// Start starts every worker. On failure the workers already started are
// stopped again.
func (r *Roster) Start(ctx context.Context) error {
	for i, w := range r.workers {
		if err := w.Start(ctx); err != nil {
			for _, started := range r.workers[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start %s: %w", w.Name(), err)
		}
	}
	log.Printf("[Agents] Started %d workers", len(r.workers))
	return nil
}

// Stop stops every worker.
func (r *Roster) Stop() {
	for _, w := range r.workers {
		w.Stop()
	}
}

// Statuses returns every worker's status in roster order.
func (r *Roster) Statuses() []worker.Status {
	out := make([]worker.Status, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Status())
	}
	return out
}

// Names returns the worker names in roster order.
func (r *Roster) Names() []string {
	out := make([]string, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Name())
	}
	return out
}
