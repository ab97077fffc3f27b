package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/live"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/watch"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchSender       string
	watchIntent       string
	watchRound        string
	watchDocument     string
	watchViaLive      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time pipeline activity",
	Long: `Monitor every packet on the bus as it is published: round starts,
task assignments, extracted results, errors and completions.

With transport.kind=redis the packets are read straight from Redis.
Otherwise, or with --live, they come from the server's live-update socket.

Output Formats:
  default - Human-readable output with timestamps and icons
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch all activity
  lodge watch

  # Only results for one round
  lodge watch --round 2f0c... --intent "GRAPH_*"

  # Rounds analysing one document, through the live socket
  lodge watch --live --document contract-7

  # Export packets as JSON
  lodge watch --output=json > packets.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchSender, "sender", "", "Only packets from this sender")
	watchCmd.Flags().StringVar(&watchIntent, "intent", "", "Only intents matching this glob (e.g. \"TASK_*\")")
	watchCmd.Flags().StringVar(&watchRound, "round", "", "Only packets of this round")
	watchCmd.Flags().StringVar(&watchDocument, "document", "", "Only rounds analysing this document (live socket only)")
	watchCmd.Flags().BoolVar(&watchViaLive, "live", false, "Read from the live-update socket even with a Redis transport")
	watchCmd.Flags().String("transport", "", "Bus transport: local or redis")
	watchCmd.Flags().String("redis-url", "", "Redis URL for the redis transport")
	watchCmd.Flags().String("instance", "", "Instance name to watch")
	watchCmd.Flags().String("live-addr", "", "Address of the live-update socket")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := parseWatchFormat(watchOutputFormat)
	if err != nil {
		return err
	}

	criteria := &filter.Criteria{IntentGlob: watchIntent, Sender: watchSender, RoundID: watchRound}
	if err := criteria.Validate(); err != nil {
		return printer.Error("invalid filter", err.Error(), []string{"Use a glob such as \"TASK_*\" or \"GRAPH_UPDATE\""})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Transport.Kind == config.TransportRedis && !watchViaLive && watchDocument == "" {
		return watchRedis(ctx, cmd, cfg, format, criteria)
	}
	return watchLive(ctx, cmd, cfg, format, criteria)
}

func watchRedis(ctx context.Context, cmd *cobra.Command, cfg *config.LodgeConfig, format watch.OutputFormat, criteria *filter.Criteria) error {
	transport, err := bus.NewRedisTransportFromURL(cfg.Transport.RedisURL, cfg.Transport.Instance)
	if err != nil {
		return printer.Error("invalid Redis URL", err.Error(), nil)
	}

	b := bus.New(transport)
	if err := b.Initialize(ctx); err != nil {
		return printer.ErrorWithContext(
			"failed to connect to Redis",
			err.Error(),
			map[string]string{"Redis": cfg.Transport.RedisURL, "Instance": cfg.Transport.Instance},
			[]string{"Check that Redis is running and transport.redis_url is correct"},
		)
	}
	defer b.Close()

	// Status lines go to stderr so --output=json stays clean.
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching instance '%s' (%s)...\n", cfg.Transport.Instance, bus.PacketsChannel(cfg.Transport.Instance))
	return watch.StreamPackets(ctx, b, format, criteria.Bus(), cmd.OutOrStdout())
}

func watchLive(ctx context.Context, cmd *cobra.Command, cfg *config.LodgeConfig, format watch.OutputFormat, criteria *filter.Criteria) error {
	formatter, err := watch.NewFormatter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	url := live.URL(cfg.Server.LiveAddr, watchDocument)
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s...\n", url)

	err = live.Follow(ctx, url, func(p packet.Packet) error {
		if !criteria.Matches(p) {
			return nil
		}
		return formatter.FormatPacket(p)
	})
	if err != nil {
		return printer.ErrorWithContext(
			"live updates unavailable",
			err.Error(),
			map[string]string{"Socket": url},
			[]string{"Start a server with: lodge serve", "Or point at one with --live-addr"},
		)
	}
	return nil
}
