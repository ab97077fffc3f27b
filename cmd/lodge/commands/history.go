package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/history"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/resolver"
	"github.com/dyluth/lodge/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	historyOutputFormat string
	historyLimit        int
	historySince        string
	historyUntil        string
	historyIntent       string
	historySender       string
	historyRound        string
)

var historyCmd = &cobra.Command{
	Use:   "history [CORRELATION_ID]",
	Short: "Inspect recent packets with filtering",
	Long: `Inspect the packets a lodge server has recently seen, in list or get mode.

List Mode (no CORRELATION_ID):
  Displays packets matching filters as a table or JSONL stream.

Get Mode (with CORRELATION_ID):
  Displays every packet sharing one correlation id, such as a TASK_START
  and the STAGE_DONE that answers it, as pretty-printed JSON.
  Supports short IDs (e.g., "abc123" instead of full UUID).

Output Formats (list mode only):
  default - Human-readable table with ID, Age, Sender, Recipient and Summary
  jsonl   - Line-delimited JSON, one packet per line

Time Filters (list mode only):
  --since  - Show packets sent after this time
  --until  - Show packets sent before this time

Content Filters (list mode only):
  --intent - Filter by intent (glob pattern: "TASK_*", "*_DONE")
  --sender - Filter by sender (exact match: "HARVESTER", "COORDINATOR")
  --round  - Filter by round id

Examples:
  # List recent packets
  lodge history

  # Results from the last ten minutes
  lodge history --intent="GRAPH_*" --since=10m

  # JSONL for piping to jq
  lodge history --output=jsonl | jq 'select(.intent=="HYPOTHESIS") | .content.hypothesis'

  # One request and its reply by short ID
  lodge history 3f9a2c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Fetch at most this many recent packets (0 = all retained)")

	// Time-based filters
	historyCmd.Flags().StringVar(&historySince, "since", "", "Show packets after time (duration or RFC3339)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Show packets before time (duration or RFC3339)")

	// Content-based filters
	historyCmd.Flags().StringVar(&historyIntent, "intent", "", "Filter by intent (glob pattern)")
	historyCmd.Flags().StringVar(&historySender, "sender", "", "Filter by sender (exact match)")
	historyCmd.Flags().StringVar(&historyRound, "round", "", "Filter by round id")

	addServerFlag(historyCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	isGetMode := len(args) > 0

	var outputFormat history.OutputFormat
	if !isGetMode {
		switch historyOutputFormat {
		case "default":
			outputFormat = history.OutputFormatDefault
		case "jsonl":
			outputFormat = history.OutputFormatJSONL
		default:
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", historyOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}
	}
	if historyLimit < 0 {
		return printer.Error("invalid limit", fmt.Sprintf("--limit must be >= 0, got %d", historyLimit), nil)
	}

	base, err := resolveServer(cmd)
	if err != nil {
		return err
	}
	src := history.NewHTTPSource(base)

	if isGetMode {
		return getPackets(ctx, cmd, src, args[0])
	}

	window, err := timespec.ParseRange(historySince, historyUntil, time.Now())
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration (\"10m\", \"2h\") or an RFC3339 timestamp"},
		)
	}

	criteria := &filter.Criteria{
		Window:     window,
		IntentGlob: historyIntent,
		Sender:     historySender,
		RoundID:    historyRound,
	}

	if err := history.ListPackets(ctx, src, historyLimit, outputFormat, criteria, cmd.OutOrStdout()); err != nil {
		return printer.ErrorWithContext(
			"failed to list packets",
			err.Error(),
			map[string]string{"Server": base},
			[]string{"Start a server with: lodge serve", "Or point at one with --server"},
		)
	}
	return nil
}

// getPackets prints every packet whose correlation id starts with shortID.
func getPackets(ctx context.Context, cmd *cobra.Command, src history.Source, shortID string) error {
	packets, err := src.History(ctx, historyLimit)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to fetch history",
			err.Error(),
			map[string]string{"Server": src.Describe()},
			nil,
		)
	}

	_, matched, err := resolver.ResolveCorrelationID(packets, shortID)
	if err != nil {
		var ambiguous *resolver.AmbiguousError
		var notFound *resolver.NotFoundError
		switch {
		case errors.As(err, &ambiguous):
			fmt.Fprintln(cmd.ErrOrStderr(), resolver.FormatAmbiguousError(ambiguous))
			return fmt.Errorf("ambiguous short ID")
		case errors.As(err, &notFound):
			return printer.Error(
				fmt.Sprintf("packet with ID '%s' not found", shortID),
				"No retained packet has a correlation id with this prefix.",
				[]string{"List recent packets:\n  lodge history"},
			)
		default:
			return printer.Error("invalid ID", err.Error(), nil)
		}
	}

	for _, p := range matched {
		if err := history.FormatSingleJSON(cmd.OutOrStdout(), p); err != nil {
			return fmt.Errorf("failed to format packet: %w", err)
		}
	}
	return nil
}
