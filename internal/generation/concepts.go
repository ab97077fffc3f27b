package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/lodge/pkg/packet"
)

const extractionSystemPrompt = "You are a concept extraction agent. Extract concepts from text and return JSON."

const extractionPrompt = `Extract concepts from the following text. Return a JSON object with a "concepts" array.

Each concept should have:
- id: unique identifier
- term: the concept text
- type: concept type (entity, date, location, organization, etc.)
- category: broad subject area the concept belongs to
- confidence: confidence score (0.0-1.0)
- explanation: brief explanation

Example:
{
  "concepts": [
    {
      "id": "c1",
      "term": "GDPR",
      "type": "legal",
      "category": "regulation",
      "confidence": 0.95,
      "explanation": "General Data Protection Regulation"
    }
  ]
}`

// defaultConfidence is used when the model omits a confidence score.
const defaultConfidence = 0.5

type extractedConcept struct {
	ID          string   `json:"id"`
	Term        string   `json:"term"`
	Type        string   `json:"type"`
	DataType    string   `json:"dataType"`
	Category    string   `json:"category"`
	Confidence  *float64 `json:"confidence"`
	Explanation string   `json:"explanation"`
}

// ExtractConcepts asks the gateway for the concepts in text.
func (c *Client) ExtractConcepts(ctx context.Context, text string) ([]packet.Concept, error) {
	content, err := c.ChatCompletion(ctx, []Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: extractionPrompt + "\n\nText:\n" + text},
	}, true)
	if err != nil {
		return nil, err
	}
	return ParseConcepts(content)
}

// ParseConcepts decodes a {"concepts": [...]} document produced by the model.
func ParseConcepts(content string) ([]packet.Concept, error) {
	var doc struct {
		Concepts []extractedConcept `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("model returned invalid concept JSON: %w", err)
	}

	out := make([]packet.Concept, 0, len(doc.Concepts))
	for _, ec := range doc.Concepts {
		if ec.Term == "" {
			continue
		}
		confidence := defaultConfidence
		if ec.Confidence != nil {
			confidence = *ec.Confidence
		}
		conceptType := ec.Type
		if conceptType == "" {
			conceptType = "concept"
		}
		out = append(out, packet.Concept{
			ID:          ec.ID,
			Term:        ec.Term,
			Type:        conceptType,
			DataType:    ec.DataType,
			Category:    ec.Category,
			Explanation: ec.Explanation,
			Confidence:  confidence,
		})
	}
	return out, nil
}
