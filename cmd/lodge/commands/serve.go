package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/lodge/internal/app"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	serveRole            string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run workers, the coordinator and the servers",
	Long: `Run a lodge process until interrupted.

Roles:
  all          - workers, coordinator, HTTP API and live updates (default)
  workers      - the worker roster only; needs transport.kind=redis
  coordinator  - coordinator and servers only; needs transport.kind=redis

Processes that share a Redis URL and instance name form one deployment.

Examples:
  # Everything in one process, in-memory bus
  lodge serve

  # Split across processes
  lodge serve --role workers --transport redis --redis-url redis://localhost:6379
  lodge serve --role coordinator --transport redis --redis-url redis://localhost:6379`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRole, "role", string(app.RoleAll), "Process role: all, workers or coordinator")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "Time allowed for a graceful shutdown")
	serveCmd.Flags().String("transport", "", "Bus transport: local or redis")
	serveCmd.Flags().String("redis-url", "", "Redis URL for the redis transport")
	serveCmd.Flags().String("instance", "", "Instance name shared by cooperating processes")
	serveCmd.Flags().String("http-addr", "", "HTTP API listen address")
	serveCmd.Flags().String("live-addr", "", "WebSocket listen address")
	serveCmd.Flags().StringSlice("stages", nil, "Pipeline stages in order")
	serveCmd.Flags().Float64("threshold", 0, "Confidence below which CRITIC raises a hypothesis")
	serveCmd.Flags().String("model", "", "Generation model name")
	serveCmd.Flags().String("gateway", "", "Generation gateway URL")
	serveCmd.Flags().Bool("tracing", false, "Enable tracing")
	serveCmd.Flags().String("trace-exporter", "", "Trace exporter: none, stdout or otlp")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	role, err := app.ParseRole(serveRole)
	if err != nil {
		return printer.Error(
			"invalid role",
			err.Error(),
			[]string{"Valid roles: all, workers, coordinator"},
		)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, app.Options{Role: role})
	if err != nil {
		return printer.ErrorWithContext(
			"failed to build lodge",
			err.Error(),
			map[string]string{"Role": string(role), "Transport": cfg.Transport.Kind},
			nil,
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return printer.ErrorWithContext(
			"failed to start lodge",
			err.Error(),
			map[string]string{"Transport": cfg.Transport.Kind, "HTTP": cfg.Server.HTTPAddr, "Live": cfg.Server.LiveAddr},
			[]string{"Check that the addresses are free and Redis is reachable"},
		)
	}

	printer.Success("Lodge running (role: %s, transport: %s, instance: %s)\n", role, cfg.Transport.Kind, cfg.Transport.Instance)
	printer.Info("  HTTP API:     http://%s\n", a.APIAddr())
	printer.Info("  Live updates: ws://%s/ws\n", a.LiveAddr())
	printer.Info("Press Ctrl+C to stop\n")

	<-ctx.Done()
	printer.Step("Shutting down...\n")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return printer.Error("shutdown incomplete", err.Error(), nil)
	}

	printer.Success("Stopped\n")
	return nil
}
