package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/google/uuid"
)

// ErrEmptyPage is returned when a page carries no text to harvest.
var ErrEmptyPage = errors.New("page has no text")

// Extractor finds concepts in text. generation.Client implements it.
type Extractor interface {
	ExtractConcepts(ctx context.Context, text string) ([]packet.Concept, error)
}

// HarvesterTask extracts concepts from the page, dropping excluded terms and
// duplicates. Concepts without an id are given one.
func HarvesterTask(ex Extractor) worker.Task {
	return worker.TaskFunc(func(ctx context.Context, in packet.TaskInput) ([]packet.Content, error) {
		if strings.TrimSpace(in.Page.Text) == "" {
			return nil, ErrEmptyPage
		}

		concepts, err := ex.ExtractConcepts(ctx, in.Page.Text)
		if err != nil {
			return nil, fmt.Errorf("concept extraction failed: %w", err)
		}

		excluded := make(map[string]bool, len(in.Exclusions))
		for _, term := range in.Exclusions {
			excluded[normalize(term)] = true
		}

		var out []packet.Content
		seen := make(map[string]bool)
		for _, c := range concepts {
			key := normalize(c.Term)
			if key == "" || excluded[key] || seen[key] {
				continue
			}
			seen[key] = true

			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			if c.Type == "" {
				c.Type = "concept"
			}
			concept := c
			out = append(out, packet.Content{
				Log:     fmt.Sprintf("HARVESTER extracted concept: %s", c.Term),
				Concept: &concept,
			})
		}
		return out, nil
	})
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
