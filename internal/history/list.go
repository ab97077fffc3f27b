// Package history renders recent bus traffic for the CLI.
package history

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/pkg/packet"
)

// OutputFormat specifies how to format the packet list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated summaries
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete packets as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source supplies recent packets, oldest first.
type Source interface {
	History(ctx context.Context, limit int) ([]packet.Packet, error)
	Describe() string
}

// ListPackets fetches up to limit packets from src, applies filters and
// writes them in the requested format. Output is sorted by timestamp.
func ListPackets(ctx context.Context, src Source, limit int, format OutputFormat, filters *filter.Criteria, w io.Writer) error {
	if filters != nil {
		if err := filters.Validate(); err != nil {
			return err
		}
	}

	all, err := src.History(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	packets := make([]packet.Packet, 0, len(all))
	for _, p := range all {
		if filters != nil && !filters.Matches(p) {
			continue
		}
		packets = append(packets, p)
	}

	sort.SliceStable(packets, func(i, j int) bool {
		return packets[i].Timestamp.Before(packets[j].Timestamp)
	})

	switch format {
	case OutputFormatDefault:
		FormatTable(w, packets, src.Describe())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, packets); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
