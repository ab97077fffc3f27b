package agents

import (
	"context"
	"fmt"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/packet"
)

// CuratorTask links each concept to the domain of its category with an is_a
// edge. Concepts whose domain was not defined by an earlier stage are skipped.
func CuratorTask() worker.Task {
	return worker.TaskFunc(func(_ context.Context, in packet.TaskInput) ([]packet.Content, error) {
		domains := make(map[string]bool)
		for _, d := range in.Domains() {
			domains[d.ID] = true
		}

		var out []packet.Content
		for _, c := range in.Concepts() {
			parent := DomainID(domainName(c))
			if !domains[parent] {
				continue
			}
			out = append(out, packet.Content{
				Log:      fmt.Sprintf("CURATOR created taxonomy: %s is_a %s", c.ID, parent),
				Taxonomy: &packet.Taxonomy{Parent: parent, Child: c.ID, Type: "is_a"},
			})
		}
		return out, nil
	})
}
