package commands

import (
	"fmt"

	"github.com/dyluth/lodge/internal/api"
	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version string
	commit  string
	date    string

	cfgFile   string
	serverURL string
)

// configFlags maps command flags onto configuration keys. A flag only
// overrides the file and environment when it is set on the command line.
var configFlags = map[string]string{
	"transport":      "transport.kind",
	"redis-url":      "transport.redis_url",
	"instance":       "transport.instance",
	"http-addr":      "server.http_addr",
	"live-addr":      "server.live_addr",
	"stages":         "pipeline.stages",
	"threshold":      "pipeline.confidence_threshold",
	"model":          "generation.model",
	"gateway":        "generation.gateway_url",
	"tracing":        "tracing.enabled",
	"trace-exporter": "tracing.exporter",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lodge",
	Short: "Lodge - collaborative knowledge-extraction pipeline",
	Long: `Lodge runs a team of specialised workers that turn document pages into
a knowledge graph: concepts, domains, taxonomy links and review hypotheses.

A coordinator drives each page through the pipeline stage by stage and
streams every result as it is produced. Workers and coordinators talk over
a packet bus that is either in-process or shared through Redis.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./lodge.yml when present)")
}

// loadConfig layers defaults, the config file, LODGE_* environment
// variables and any config flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.LodgeConfig, error) {
	v := viper.New()
	if err := config.Layer(v, cfgFile); err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			map[string]string{"Config": describeConfigFile()},
			[]string{"Create one with: lodge init", "Check it with: lodge validate"},
		)
	}

	for name, key := range configFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": describeConfigFile()},
			[]string{"Fix the value in the config file or the matching LODGE_* environment variable"},
		)
	}
	return cfg, nil
}

func describeConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultFileName + " (optional)"
}

// addServerFlag registers --server on commands that talk to a running server.
func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "Server URL (default derived from server.http_addr)")
}

// resolveServer returns --server, or a URL for the configured HTTP address.
func resolveServer(cmd *cobra.Command) (string, error) {
	if serverURL != "" {
		return api.ServerURL(serverURL), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return api.ServerURL(cfg.Server.HTTPAddr), nil
}

func newClient(cmd *cobra.Command) (*api.Client, error) {
	base, err := resolveServer(cmd)
	if err != nil {
		return nil, err
	}
	return api.NewClient(base), nil
}
