package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/lodge/pkg/packet"
)

// FormatTable writes packets as a formatted table to the provided writer.
// The table includes columns: ID, AGE, SENDER, RECIPIENT, INTENT and SUMMARY (truncated).
// Returns the number of packets formatted.
func FormatTable(w io.Writer, packets []packet.Packet, source string) int {
	if len(packets) == 0 {
		fmt.Fprintf(w, "No packets found on %s\n", source)
		return 0
	}

	fmt.Fprintf(w, "Packets on %s:\n\n", source)

	fmt.Fprintf(w, "%-8s %-8s %-12s %-12s %-14s %s\n",
		"ID", "AGE", "SENDER", "RECIPIENT", "INTENT", "SUMMARY")
	fmt.Fprintf(w, "%-8s %-8s %-12s %-12s %-14s %s\n",
		"--------", "--------", "------------", "------------", "--------------", "----------------------------------------")

	for _, p := range packets {
		fmt.Fprintf(w, "%-8s %-8s %-12s %-12s %-14s %s\n",
			formatID(p.CorrelationID),
			formatAge(p.Timestamp),
			formatParty(p.Sender),
			formatParty(p.Recipient),
			string(p.Intent),
			truncate(Summarize(p), 60),
		)
	}

	countMsg := "packet"
	if len(packets) != 1 {
		countMsg = "packets"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(packets), countMsg)

	return len(packets)
}

// FormatJSONL writes packets as line-delimited JSON (JSONL) to the provided writer.
// Each line is a complete packet in wire format, ready for jq.
func FormatJSONL(w io.Writer, packets []packet.Packet) error {
	for _, p := range packets {
		data, err := packet.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal packet to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one packet as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, p packet.Packet) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal packet to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// Summarize describes the most specific thing a packet carries in one line.
func Summarize(p packet.Packet) string {
	c := p.Content
	switch {
	case c.Concept != nil:
		kind := c.Concept.Type
		if c.Concept.Category != "" {
			kind = c.Concept.Category
		}
		return fmt.Sprintf("concept=%s (%s, %.2f)", c.Concept.Term, kind, c.Concept.Confidence)
	case c.Domain != nil:
		return fmt.Sprintf("domain=%s sensitivity=%s", c.Domain.Name, c.Domain.Sensitivity)
	case c.Taxonomy != nil:
		return fmt.Sprintf("taxonomy=%s %s %s", c.Taxonomy.Child, c.Taxonomy.Type, c.Taxonomy.Parent)
	case c.Relationship != nil:
		return fmt.Sprintf("relationship=%s %s %s", c.Relationship.Source, c.Relationship.Predicate, c.Relationship.Target)
	case c.Hypothesis != nil:
		return fmt.Sprintf("hypothesis=%s [%s]", c.Hypothesis.Claim, c.Hypothesis.Status)
	case c.Error != "":
		return "error=" + firstLine(c.Error)
	case c.Log != "":
		return firstLine(c.Log)
	}
	return "-"
}

// formatID truncates a correlation id to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatParty(party string) string {
	if party == "" {
		return "-"
	}
	return truncate(party, 12)
}

// formatAge shows time since t, like "2m ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := time.Since(t)
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

// firstLine returns the first non-empty trimmed line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if s == "" {
		return "-"
	}
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
