// Package resolver expands short correlation ids typed on the command line.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/lodge/pkg/packet"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// ResolveCorrelationID finds the single correlation id among packets that
// starts with shortID, and returns every packet carrying it in their
// original order. A request and its reply share one correlation id, so more
// than one packet may be returned.
func ResolveCorrelationID(packets []packet.Packet, shortID string) (string, []packet.Packet, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))
	if len(shortID) < MinShortIDLength {
		return "", nil, fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	byID := make(map[string][]packet.Packet)
	for _, p := range packets {
		if strings.HasPrefix(strings.ToLower(p.CorrelationID), shortID) {
			byID[p.CorrelationID] = append(byID[p.CorrelationID], p)
		}
	}

	switch len(byID) {
	case 0:
		return "", nil, &NotFoundError{ShortID: shortID}
	case 1:
		for id, matched := range byID {
			return id, matched, nil
		}
	}

	matches := make([]string, 0, len(byID))
	for id := range byID {
		matches = append(matches, id)
	}
	sort.Strings(matches)
	return "", nil, &AmbiguousError{ShortID: shortID, Matches: matches}
}

// NotFoundError indicates no packets matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no packets found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several correlation ids matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d correlation ids", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching ids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d correlation ids:\n", err.ShortID, len(err.Matches))

	shown := err.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, id := range shown {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the packet.")
	return b.String()
}
