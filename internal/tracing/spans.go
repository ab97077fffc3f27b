package tracing

import "go.opentelemetry.io/otel/attribute"

// Span names.
const (
	SpanRound = "lodge.round"
	SpanStage = "lodge.stage"
)

// Attribute keys recorded on round and stage spans.
const (
	AttrRoundID     = attribute.Key("lodge.round.id")
	AttrRoundName   = attribute.Key("lodge.round.name")
	AttrStage       = attribute.Key("lodge.stage")
	AttrPacketCount = attribute.Key("lodge.packet_count")
	AttrTimedOut    = attribute.Key("lodge.stage.timed_out")
)
