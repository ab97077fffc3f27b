// Package packet defines the message envelope exchanged by every lodge
// component: the coordinator, the pipeline workers, observers and any remote
// process sharing the same bus.
//
// # Overview
//
// A Packet is an immutable value. It names who sent it, who it is for, what
// kind of event it represents (its Intent) and carries an intent-dependent
// Content payload. Packets cross the bus boundary as JSON, so every party
// receives its own copy and never shares mutable state with the publisher.
//
// # Usage Example
//
//	p := packet.New(packet.PartyCoordinator, packet.IntentTaskStart,
//		packet.To("HARVESTER"),
//		packet.WithContent(packet.Content{RoundID: roundID, Stage: "HARVESTER"}),
//	)
//
//	data, err := packet.Marshal(p)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	decoded, err := packet.Unmarshal(data)
//	// decoded == p, field for field
//
// # Wire Format
//
//	{ "sender": string, "recipient": string, "intent": string,
//	  "content": object, "timestamp": RFC3339 string, "correlationId": string }
//
// # Intents
//
// Intent is a closed set. Unknown intents fail validation and are rejected by
// Unmarshal with ErrMalformed, so handlers never see them.
package packet
