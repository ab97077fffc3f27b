// Package app wires configuration into a running lodge process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/lodge/internal/agents"
	"github.com/dyluth/lodge/internal/api"
	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/coordinator"
	"github.com/dyluth/lodge/internal/generation"
	"github.com/dyluth/lodge/internal/live"
	"github.com/dyluth/lodge/internal/tracing"
	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/bus"
)

// Role selects which parts of the system a process runs. With a Redis
// transport, several processes with different roles share one instance.
type Role string

const (
	RoleAll         Role = "all"
	RoleWorkers     Role = "workers"
	RoleCoordinator Role = "coordinator"
)

// ParseRole validates a --role flag value.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAll, RoleWorkers, RoleCoordinator:
		return r, nil
	case "":
		return RoleAll, nil
	default:
		return "", fmt.Errorf("invalid role %q (must be 'all', 'workers' or 'coordinator')", s)
	}
}

// Options customise New.
type Options struct {
	Role Role

	// Extractor overrides the generation client used by HARVESTER.
	Extractor agents.Extractor
}

// App is one lodge process.
type App struct {
	cfg  *config.LodgeConfig
	role Role

	bus         *bus.Bus
	tracer      *tracing.Provider
	roster      *agents.Roster
	coordinator *coordinator.Coordinator
	api         *api.Server
	live        *live.Hub

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every component for cfg without starting anything.
func New(cfg *config.LodgeConfig, opts Options) (*App, error) {
	role, err := ParseRole(string(opts.Role))
	if err != nil {
		return nil, err
	}
	if role != RoleAll && cfg.Transport.Kind == config.TransportLocal {
		return nil, fmt.Errorf("role %q needs a shared transport; set transport.kind to 'redis'", role)
	}

	transport, err := NewTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	a := &App{
		cfg:    cfg,
		role:   role,
		bus:    bus.New(transport, bus.WithHistorySize(cfg.Pipeline.HistorySize)),
		tracer: tracer,
	}

	var runner api.Runner
	var workers api.StatusSource

	if role != RoleCoordinator {
		extractor := opts.Extractor
		if extractor == nil {
			client := generation.NewClient(cfg.Generation)
			if err := client.CheckCredentials(); err != nil {
				log.Printf("[App] Warning: %v; HARVESTER will fail until generation.api_key is set", err)
			}
			extractor = client
		}

		a.roster, err = agents.NewRoster(a.bus, extractor, agents.RosterConfig{
			Stages:              cfg.Pipeline.Stages,
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			Options:             []worker.Option{worker.WithGracePeriod(cfg.Pipeline.GracePeriod)},
		})
		if err != nil {
			a.bus.Close()
			return nil, fmt.Errorf("failed to build workers: %w", err)
		}
		workers = a.roster
	}

	if role != RoleWorkers {
		a.coordinator = coordinator.New(a.bus, coordinator.Config{
			Stages:       cfg.Pipeline.Stages,
			StageTimeout: cfg.Pipeline.StageTimeout,
		}, coordinator.WithTracer(tracer.Tracer()))
		runner = a.coordinator
	}

	a.api = api.NewServer(cfg.Server.HTTPAddr, a.bus, runner, workers)
	a.live = live.NewHub(a.bus)
	return a, nil
}

// NewTransport builds the bus transport described by cfg.
func NewTransport(cfg config.TransportConfig) (bus.Transport, error) {
	switch cfg.Kind {
	case config.TransportLocal, "":
		return bus.NewLocalTransport(), nil
	case config.TransportRedis:
		t, err := bus.NewRedisTransportFromURL(cfg.RedisURL, cfg.Instance)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis transport: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Kind)
	}
}

// Start connects the bus, starts the workers and opens both listeners.
// On failure everything already started is stopped again.
func (a *App) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			a.Shutdown(context.Background())
		}
	}()

	if err := a.bus.Initialize(ctx); err != nil {
		return err
	}

	if a.roster != nil {
		if err := a.roster.Start(ctx); err != nil {
			return err
		}
	}

	a.live.Start()
	if err := a.live.Listen(a.cfg.Server.LiveAddr); err != nil {
		return fmt.Errorf("failed to start live updates: %w", err)
	}
	if err := a.api.Start(); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	log.Printf("[App] Running role=%s transport=%s instance=%s stages=%v",
		a.role, a.bus.TransportName(), a.cfg.Transport.Instance, a.cfg.Pipeline.Stages)
	return nil
}

// Shutdown stops listeners, workers and the bus, then flushes traces.
// Later calls return the result of the first.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() { a.shutdownErr = a.shutdown(ctx) })
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	var errs []error

	if err := a.api.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	if err := a.live.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("live: %w", err))
	}
	if a.roster != nil {
		a.roster.Stop()
	}
	if err := a.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus: %w", err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}

// Bus returns the process bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Coordinator returns nil for worker-only processes.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coordinator }

// APIAddr returns the bound HTTP address.
func (a *App) APIAddr() string { return a.api.Addr() }

// LiveAddr returns the bound WebSocket address.
func (a *App) LiveAddr() string { return a.live.Addr() }
