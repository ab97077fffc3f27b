package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default lodge.yml",
	Long: `Write a commented default configuration to lodge.yml, or to the path
given with --config.

The defaults run everything in one process on an in-memory bus. Set
transport.kind to "redis" to share one deployment across processes.

Use --force to replace an existing file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultFileName
	}

	if forceInit {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	if err := config.WriteDefault(path); err != nil {
		return printer.Error(
			"initialization failed",
			err.Error(),
			[]string{"Keep the existing file and check it with: lodge validate", "Replace it with: lodge init --force"},
		)
	}

	printer.Success("Wrote %s\n", path)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Set LODGE_GENERATION_API_KEY for concept extraction\n")
	printer.Info("  2. Start lodge:   lodge serve\n")
	printer.Info("  3. Analyze text:  lodge analyze \"...\"\n")
	return nil
}
