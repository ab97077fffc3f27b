package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/packet"
)

// Sensitivity levels of a domain.
const (
	SensitivityLow    = "LOW"
	SensitivityMedium = "MEDIUM"
	SensitivityHigh   = "HIGH"
)

// sensitiveCategories hold personal or regulated information.
var sensitiveCategories = map[string]bool{
	"legal":      true,
	"regulation": true,
	"financial":  true,
	"medical":    true,
	"personal":   true,
}

// ArchitectTask creates one domain per concept category. Concepts without a
// category fall back to their type.
func ArchitectTask() worker.Task {
	return worker.TaskFunc(func(_ context.Context, in packet.TaskInput) ([]packet.Content, error) {
		groups := make(map[string][]packet.Concept)
		for _, c := range in.Concepts() {
			name := domainName(c)
			groups[name] = append(groups[name], c)
		}

		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]packet.Content, 0, len(names))
		for _, name := range names {
			members := groups[name]
			domain := &packet.Domain{
				ID:          DomainID(name),
				Name:        name,
				Description: describeDomain(members),
				Sensitivity: sensitivity(name),
			}
			out = append(out, packet.Content{
				Log:    fmt.Sprintf("ARCHITECT defined domain: %s", name),
				Domain: domain,
			})
		}
		return out, nil
	})
}

// DomainID is the id of the domain a category maps to.
func DomainID(name string) string {
	return "domain-" + strings.ReplaceAll(normalize(name), " ", "-")
}

func domainName(c packet.Concept) string {
	switch {
	case c.Category != "":
		return normalize(c.Category)
	case c.Type != "" && c.Type != "concept":
		return normalize(c.Type)
	default:
		return "general"
	}
}

func describeDomain(members []packet.Concept) string {
	terms := make([]string, 0, len(members))
	for _, c := range members {
		terms = append(terms, c.Term)
	}
	if len(terms) > 3 {
		terms = append(terms[:3], "...")
	}
	return fmt.Sprintf("%d concepts: %s", len(members), strings.Join(terms, ", "))
}

func sensitivity(name string) string {
	if sensitiveCategories[name] {
		return SensitivityHigh
	}
	if name == "general" {
		return SensitivityLow
	}
	return SensitivityMedium
}
