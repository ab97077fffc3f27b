package commands

import (
	"github.com/dyluth/lodge/internal/printer"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without starting anything",
	Long: `Load the configuration the way "lodge serve" would (defaults, config
file, LODGE_* environment variables) and report the effective settings or
the first problem found.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	printer.Success("Configuration is valid (%s)\n", describeConfigFile())
	printer.Printf("  transport:  %s (instance %s)\n", cfg.Transport.Kind, cfg.Transport.Instance)
	printer.Printf("  http:       %s\n", cfg.Server.HTTPAddr)
	printer.Printf("  live:       %s\n", cfg.Server.LiveAddr)
	printer.Printf("  stages:     %v\n", cfg.Pipeline.Stages)
	printer.Printf("  timeout:    %s per stage\n", cfg.Pipeline.StageTimeout)
	printer.Printf("  threshold:  %g\n", cfg.Pipeline.ConfidenceThreshold)
	printer.Printf("  tracing:    %t (%s)\n", cfg.Tracing.Enabled, cfg.Tracing.Exporter)
	if cfg.Generation.APIKey == "" {
		printer.Warning("generation.api_key is not set; HARVESTER cannot extract concepts\n")
	}
	return nil
}
