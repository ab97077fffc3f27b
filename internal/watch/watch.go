// Package watch prints bus traffic as it happens.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/dyluth/lodge/internal/history"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
)

// OutputFormat specifies how watched packets are printed.
type OutputFormat string

const (
	// OutputFormatDefault prints one human-readable line per packet
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON prints one packet per line in wire format
	OutputFormatJSON OutputFormat = "json"
)

// bufferSize bounds packets waiting to be printed. The bus delivers
// synchronously, so a slow terminal must not stall it.
const bufferSize = 1024

// Formatter writes one packet.
type Formatter interface {
	FormatPacket(p packet.Packet) error
}

// NewFormatter returns the formatter for format.
func NewFormatter(format OutputFormat, w io.Writer) (Formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// StreamPackets prints every packet matching filter until ctx is done.
// A nil filter prints everything.
func StreamPackets(ctx context.Context, b *bus.Bus, format OutputFormat, filter bus.Filter, w io.Writer) error {
	formatter, err := NewFormatter(format, w)
	if err != nil {
		return err
	}
	if filter == nil {
		filter = bus.All()
	}

	queue := make(chan packet.Packet, bufferSize)
	unsubscribe := b.Subscribe(filter, func(p packet.Packet) {
		select {
		case queue <- p:
		default:
			log.Printf("[Watch] Output is falling behind, dropped %s from %s", p.Intent, p.Sender)
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-queue:
			if err := formatter.FormatPacket(p); err != nil {
				return fmt.Errorf("failed to write packet: %w", err)
			}
		}
	}
}

// defaultFormatter prints emoji-prefixed lines with a local timestamp.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatPacket(p packet.Packet) error {
	ts := p.Timestamp.Local().Format("15:04:05")

	route := p.Sender
	if !p.IsBroadcast() {
		route += " → " + p.Recipient
	}

	line := fmt.Sprintf("[%s] %s %s: %s", ts, icon(p.Intent), label(p.Intent), route)
	if summary := history.Summarize(p); summary != "-" {
		line += " " + summary
	}
	if p.Content.RoundName != "" {
		line += fmt.Sprintf(" (%s)", p.Content.RoundName)
	}
	if p.Intent == packet.IntentTaskComplete && p.Sender == packet.PartyCoordinator {
		line += fmt.Sprintf(" packets=%d", p.Content.PacketCount)
	}

	_, err := fmt.Fprintln(f.writer, line)
	return err
}

// jsonFormatter prints packets as line-delimited JSON.
type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) FormatPacket(p packet.Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", data)
	return err
}

func icon(i packet.Intent) string {
	switch i {
	case packet.IntentRoundStart:
		return "🚀"
	case packet.IntentTaskStart:
		return "▶️"
	case packet.IntentStageDone:
		return "✅"
	case packet.IntentTaskComplete:
		return "🎉"
	case packet.IntentTaskCancel:
		return "🛑"
	case packet.IntentGraphUpdate:
		return "✨"
	case packet.IntentHypothesis:
		return "💡"
	case packet.IntentCritique:
		return "🧐"
	case packet.IntentToolUse:
		return "🔧"
	case packet.IntentExplain:
		return "📝"
	case packet.IntentError:
		return "❌"
	default:
		return "ℹ️"
	}
}

func label(i packet.Intent) string {
	switch i {
	case packet.IntentRoundStart:
		return "Round started"
	case packet.IntentTaskStart:
		return "Stage dispatched"
	case packet.IntentStageDone:
		return "Stage done"
	case packet.IntentTaskComplete:
		return "Task complete"
	case packet.IntentTaskCancel:
		return "Cancelled"
	case packet.IntentGraphUpdate:
		return "Graph update"
	case packet.IntentHypothesis:
		return "Hypothesis"
	case packet.IntentCritique:
		return "Critique"
	case packet.IntentToolUse:
		return "Tool use"
	case packet.IntentExplain:
		return "Explanation"
	case packet.IntentError:
		return "Error"
	default:
		return "Info"
	}
}
