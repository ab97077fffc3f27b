package filter

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/lodge/internal/timespec"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
)

// Criteria defines filtering criteria for packets.
// All filters are ANDed together - a packet must match ALL criteria to pass.
type Criteria struct {
	Window     timespec.Range // Zero range = no filter
	IntentGlob string         // Glob pattern for the intent ("TASK_*"), empty = no filter
	Sender     string         // Exact match, empty = no filter
	RoundID    string         // Exact match on content.round_id, empty = no filter
}

// Validate checks the intent pattern.
func (c *Criteria) Validate() error {
	if c.IntentGlob == "" {
		return nil
	}
	if _, err := filepath.Match(c.IntentGlob, ""); err != nil {
		return fmt.Errorf("invalid intent pattern %q: %w", c.IntentGlob, err)
	}
	return nil
}

// Matches returns true if the packet matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(p packet.Packet) bool {
	if !c.Window.Contains(p.Timestamp) {
		return false
	}

	if c.IntentGlob != "" {
		matched, err := filepath.Match(c.IntentGlob, string(p.Intent))
		if err != nil || !matched {
			return false
		}
	}

	if c.Sender != "" && p.Sender != c.Sender {
		return false
	}

	if c.RoundID != "" && p.Content.RoundID != c.RoundID {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Window.IsZero() ||
		c.IntentGlob != "" ||
		c.Sender != "" ||
		c.RoundID != ""
}

// Bus adapts the criteria to a bus subscription filter.
func (c *Criteria) Bus() bus.Filter {
	if !c.HasFilters() {
		return bus.All()
	}
	criteria := *c
	return func(p packet.Packet) bool { return criteria.Matches(p) }
}
