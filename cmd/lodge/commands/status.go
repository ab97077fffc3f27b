package commands

import (
	"context"

	"github.com/dyluth/lodge/internal/printer"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and worker states",
	Long: `Query a running lodge server for transport health, active rounds and the
state of every worker it hosts.

Examples:
  lodge status
  lodge status --server http://lodge.internal:8000`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	addServerFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	health, err := client.Health(ctx)
	if err != nil {
		if health.Status == "" {
			return printer.ErrorWithContext(
				"server unreachable",
				err.Error(),
				map[string]string{"Server": client.BaseURL()},
				[]string{"Start a server with: lodge serve", "Or point at one with --server"},
			)
		}
		return printer.ErrorWithContext(
			"server unhealthy",
			health.Error,
			map[string]string{"Server": client.BaseURL(), "Transport": health.Transport},
			[]string{"Check that Redis is reachable from the server"},
		)
	}

	printer.Success("%s is %s\n", client.BaseURL(), health.Status)
	printer.Printf("  transport:      %s (%s)\n", health.Transport, health.TransportStatus)
	printer.Printf("  active rounds:  %d\n", len(health.ActiveRounds))
	for _, r := range health.ActiveRounds {
		printer.Printf("    %s  %s  stage=%s  packets=%d\n", r.ID, r.Name, r.Stage, r.PacketCount)
	}
	printer.Println()

	agents, err := client.Agents(ctx)
	if err != nil {
		return printer.Error("failed to list workers", err.Error(), nil)
	}
	printer.Workers(agents.Agents)
	return nil
}
