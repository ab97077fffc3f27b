package bus

import (
	"context"
	"errors"
)

// ErrTransportUnavailable is returned by Initialize when a remote transport
// cannot be reached. The bus never silently degrades to local-only delivery.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Transport carries serialized packets between processes.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Name identifies the transport in logs and health output.
	Name() string

	// Open connects the transport. Packets published by other processes are
	// handed to deliver as raw JSON; the transport must not hand back packets
	// that this transport sent itself.
	Open(ctx context.Context, deliver func(data []byte)) error

	// Send forwards a packet that was already delivered locally.
	Send(ctx context.Context, data []byte) error

	// Ping reports whether the transport is currently usable.
	Ping(ctx context.Context) error

	Close() error
}

// LocalTransport keeps packets inside the process.
type LocalTransport struct{}

// NewLocalTransport returns the in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

func (LocalTransport) Name() string { return "local" }

func (LocalTransport) Open(context.Context, func([]byte)) error { return nil }

func (LocalTransport) Send(context.Context, []byte) error { return nil }

func (LocalTransport) Ping(context.Context) error { return nil }

func (LocalTransport) Close() error { return nil }
