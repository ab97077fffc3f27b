package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is returned when raw bytes do not decode into a valid Packet.
var ErrMalformed = errors.New("malformed packet")

// Reserved party identifiers.
const (
	// PartyBroadcast is the recipient meaning "every current subscriber".
	PartyBroadcast = "ALL"

	// PartySystem identifies packets produced by the hosting process itself
	PartySystem = "SYSTEM"

	// PartyCoordinator identifies packets produced by the round coordinator
	PartyCoordinator = "COORDINATOR"
)

// Intent is the semantic tag of a Packet.
type Intent string

const (
	// IntentInfo is an informational log line
	IntentInfo Intent = "INFO"

	// IntentTaskStart asks the recipient to start work on a round stage
	IntentTaskStart Intent = "TASK_START"

	// IntentTaskComplete reports that a unit of work finished. The coordinator
	// sends exactly one per round as the final packet of the stream.
	IntentTaskComplete Intent = "TASK_COMPLETE"

	// IntentTaskCancel asks the recipient to abandon in-flight work for a round
	IntentTaskCancel Intent = "TASK_CANCEL"

	// IntentStageDone acknowledges to the coordinator that a stage has finished
	// producing results for a round
	IntentStageDone Intent = "STAGE_DONE"

	// IntentCritique carries review feedback on earlier results
	IntentCritique Intent = "CRITIQUE"

	// IntentGraphUpdate carries a partial result (concept, domain, taxonomy, relationship)
	IntentGraphUpdate Intent = "GRAPH_UPDATE"

	// IntentRoundStart announces a new round to observers
	IntentRoundStart Intent = "ROUND_START"

	// IntentHypothesis carries a proposed hypothesis
	IntentHypothesis Intent = "HYPOTHESIS"

	// IntentToolUse records an invocation of an external tool
	IntentToolUse Intent = "TOOL_USE"

	// IntentExplain carries a human-readable explanation
	IntentExplain Intent = "EXPLAIN"

	// IntentError carries an error description instead of a result
	IntentError Intent = "ERROR"
)

// Intents lists every valid intent in declaration order.
var Intents = []Intent{
	IntentInfo, IntentTaskStart, IntentTaskComplete, IntentTaskCancel,
	IntentStageDone, IntentCritique, IntentGraphUpdate, IntentRoundStart,
	IntentHypothesis, IntentToolUse, IntentExplain, IntentError,
}

// Validate checks if the Intent is a known enum value.
func (i Intent) Validate() error {
	switch i {
	case IntentInfo, IntentTaskStart, IntentTaskComplete, IntentTaskCancel,
		IntentStageDone, IntentCritique, IntentGraphUpdate, IntentRoundStart,
		IntentHypothesis, IntentToolUse, IntentExplain, IntentError:
		return nil
	default:
		return fmt.Errorf("unknown intent: %q", i)
	}
}

// ResultBearing reports whether packets with this intent are part of a
// round's result stream.
func (i Intent) ResultBearing() bool {
	switch i {
	case IntentGraphUpdate, IntentHypothesis, IntentTaskComplete, IntentCritique, IntentError:
		return true
	}
	return false
}

// Packet is the envelope exchanged between all parties.
type Packet struct {
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Intent        Intent    `json:"intent"`
	Content       Content   `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// Option customises a Packet under construction.
type Option func(*Packet)

// To sets the recipient. An empty recipient means broadcast.
func To(recipient string) Option {
	return func(p *Packet) {
		if recipient != "" {
			p.Recipient = recipient
		}
	}
}

// WithContent sets the payload.
func WithContent(c Content) Option {
	return func(p *Packet) {
		p.Content = c
	}
}

// WithCorrelationID propagates an existing correlation id instead of
// generating a fresh one.
func WithCorrelationID(id string) Option {
	return func(p *Packet) {
		if id != "" {
			p.CorrelationID = id
		}
	}
}

// New builds a fully populated Packet. Recipient defaults to PartyBroadcast,
// the timestamp to the current UTC time and the correlation id to a new UUID.
func New(sender string, intent Intent, opts ...Option) Packet {
	p := Packet{
		Sender:        sender,
		Recipient:     PartyBroadcast,
		Intent:        intent,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Reply builds a packet addressed to the sender of req that carries the same
// correlation id.
func Reply(req Packet, sender string, intent Intent, content Content) Packet {
	return New(sender, intent,
		To(req.Sender),
		WithContent(content),
		WithCorrelationID(req.CorrelationID),
	)
}

// Validate checks the envelope invariants.
func (p Packet) Validate() error {
	if p.Sender == "" {
		return fmt.Errorf("sender cannot be empty")
	}

	if err := p.Intent.Validate(); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}

	if p.Recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	if p.CorrelationID == "" {
		return fmt.Errorf("correlationId cannot be empty")
	}

	if p.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}

	return nil
}

// IsBroadcast reports whether the packet is addressed to every subscriber.
func (p Packet) IsBroadcast() bool {
	return p.Recipient == PartyBroadcast
}
