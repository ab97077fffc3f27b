package packet

// Content is the intent-dependent payload of a Packet. Every field is
// optional; an empty Content serializes as {}.
type Content struct {
	Log         string `json:"log,omitempty"`
	RoundID     string `json:"round_id,omitempty"`
	RoundName   string `json:"round_name,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Error       string `json:"error,omitempty"`
	PacketCount int    `json:"packet_count,omitempty"`

	Input *TaskInput `json:"input,omitempty"`

	Concept      *Concept      `json:"concept,omitempty"`
	Domain       *Domain       `json:"domain,omitempty"`
	Taxonomy     *Taxonomy     `json:"taxonomy,omitempty"`
	Relationship *Relationship `json:"relationship,omitempty"`
	Hypothesis   *Hypothesis   `json:"hypothesis,omitempty"`
}

// ResultIntent picks the intent a worker should publish this content under.
func (c Content) ResultIntent() Intent {
	if c.Hypothesis != nil {
		return IntentHypothesis
	}
	return IntentGraphUpdate
}

// Page is one unit of input: a single page of a document.
type Page struct {
	DocumentID  string `json:"document_id,omitempty"`
	PageNumber  int    `json:"page_number"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// TaskInput is what a pipeline stage receives in its TASK_START packet.
// Results accumulates the result contents of every earlier stage, in arrival order.
type TaskInput struct {
	Page       Page      `json:"page"`
	Exclusions []string  `json:"exclusions,omitempty"`
	Results    []Content `json:"results,omitempty"`
}

// Concepts returns the concepts among the accumulated results.
func (in TaskInput) Concepts() []Concept {
	var out []Concept
	for _, r := range in.Results {
		if r.Concept != nil {
			out = append(out, *r.Concept)
		}
	}
	return out
}

// Domains returns the domains among the accumulated results.
func (in TaskInput) Domains() []Domain {
	var out []Domain
	for _, r := range in.Results {
		if r.Domain != nil {
			out = append(out, *r.Domain)
		}
	}
	return out
}

// Concept is an extracted term.
type Concept struct {
	ID          string    `json:"id"`
	Term        string    `json:"term"`
	Type        string    `json:"type"` // "concept" or "hypernode"
	DataType    string    `json:"dataType,omitempty"`
	Category    string    `json:"category,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Confidence  float64   `json:"confidence"`
	BoundingBox []float64 `json:"boundingBox,omitempty"`
	UIGroup     string    `json:"ui_group,omitempty"`
}

// Domain is a hub node grouping related concepts.
type Domain struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty"` // LOW, MEDIUM, HIGH
}

// Taxonomy is a hierarchical link between two nodes.
type Taxonomy struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Type   string `json:"type"` // "is_a" or "part_of"
}

// Relationship is a typed edge between two concepts.
type Relationship struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Predicate string `json:"predicate"`
	Type      string `json:"type,omitempty"` // structural, semantic, hyperlink
}

// Hypothesis is a claim about a concept awaiting review.
type Hypothesis struct {
	ID              string `json:"id"`
	TargetConceptID string `json:"target_concept_id"`
	Claim           string `json:"claim"`
	Evidence        string `json:"evidence"`
	Status          string `json:"status"` // PROPOSED, ACCEPTED, REJECTED
}
