package packet

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes a packet to its JSON wire form.
// The packet is validated first so that nothing malformed leaves a process.
func Marshal(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid packet: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet: %w", err)
	}

	return data, nil
}

// Unmarshal decodes and validates a packet from its JSON wire form.
// Any failure is reported as ErrMalformed.
func Unmarshal(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := p.Validate(); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return p, nil
}

// Clone returns a deep copy of the packet that shares no memory with p.
func (p Packet) Clone() Packet {
	data, err := json.Marshal(p)
	if err != nil {
		return p
	}

	var out Packet
	if err := json.Unmarshal(data, &out); err != nil {
		return p
	}
	return out
}
