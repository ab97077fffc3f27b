package agents

import (
	"context"
	"fmt"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/packet"
)

// DefaultConfidenceThreshold is the confidence below which CRITIC questions
// a concept.
const DefaultConfidenceThreshold = 0.7

// CriticTask proposes a hypothesis for every concept whose confidence is
// below threshold, asking reviewers to confirm its classification.
func CriticTask(threshold float64) worker.Task {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	return worker.TaskFunc(func(_ context.Context, in packet.TaskInput) ([]packet.Content, error) {
		var out []packet.Content
		for _, c := range in.Concepts() {
			if c.Confidence >= threshold {
				continue
			}

			evidence := c.Explanation
			if evidence == "" {
				evidence = fmt.Sprintf("extracted with confidence %.2f", c.Confidence)
			}
			claim := fmt.Sprintf("%q is a %s", c.Term, domainName(c))

			out = append(out, packet.Content{
				Log: fmt.Sprintf("CRITIC proposed hypothesis: %s", claim),
				Hypothesis: &packet.Hypothesis{
					ID:              "hyp-" + c.ID,
					TargetConceptID: c.ID,
					Claim:           claim,
					Evidence:        evidence,
					Status:          "PROPOSED",
				},
			})
		}
		return out, nil
	})
}
