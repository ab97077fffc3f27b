package bus

import "github.com/dyluth/lodge/pkg/packet"

// Filter decides whether a subscriber receives a packet.
// Any func(packet.Packet) bool can be used as an arbitrary predicate.
type Filter func(p packet.Packet) bool

// All matches every packet.
func All() Filter {
	return func(packet.Packet) bool { return true }
}

// Addressed matches packets whose recipient is exactly name.
func Addressed(name string) Filter {
	return func(p packet.Packet) bool { return p.Recipient == name }
}

// Broadcasts matches packets addressed to every subscriber.
func Broadcasts() Filter {
	return func(p packet.Packet) bool { return p.IsBroadcast() }
}

// Recipient matches packets addressed to name or broadcast to everyone.
// This is what a worker named name should subscribe with.
func Recipient(name string) Filter {
	return func(p packet.Packet) bool {
		return p.Recipient == name || p.IsBroadcast()
	}
}

// FromSender matches packets sent by any of the given parties.
func FromSender(senders ...string) Filter {
	return func(p packet.Packet) bool {
		for _, s := range senders {
			if p.Sender == s {
				return true
			}
		}
		return false
	}
}

// WithIntent matches packets carrying any of the given intents.
func WithIntent(intents ...packet.Intent) Filter {
	return func(p packet.Packet) bool {
		for _, i := range intents {
			if p.Intent == i {
				return true
			}
		}
		return false
	}
}

// ForRound matches packets whose content is scoped to roundID.
func ForRound(roundID string) Filter {
	return func(p packet.Packet) bool { return p.Content.RoundID == roundID }
}

// And matches when every filter matches. And() matches everything.
func And(filters ...Filter) Filter {
	return func(p packet.Packet) bool {
		for _, f := range filters {
			if f != nil && !f(p) {
				return false
			}
		}
		return true
	}
}

// Or matches when at least one filter matches.
func Or(filters ...Filter) Filter {
	return func(p packet.Packet) bool {
		for _, f := range filters {
			if f != nil && f(p) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(p packet.Packet) bool { return !f(p) }
}
