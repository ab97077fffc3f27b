package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/dyluth/lodge/pkg/packet"
	"golang.org/x/net/websocket"
)

// Follow connects to a hub at wsURL (ws://host:port/ws or /ws/{document}) and
// calls handle for every forwarded packet until ctx is done, the server
// closes the connection, or handle returns an error.
func Follow(ctx context.Context, wsURL string, handle func(packet.Packet) error) error {
	// The hub accepts any origin.
	cfg, err := websocket.NewConfig(wsURL, "http://localhost/")
	if err != nil {
		return fmt.Errorf("invalid live url %q: %w", wsURL, err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	defer ws.Close()

	for {
		var m Message
		if err := websocket.JSON.Receive(ws, &m); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("live connection lost: %w", err)
		}
		if m.Type != TypePacket || m.Data == nil {
			continue
		}
		if err := handle(*m.Data); err != nil {
			return err
		}
	}
}

// URL builds the WebSocket address for a hub listening on addr, scoped to
// document when one is given.
func URL(addr, document string) string {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		addr = net.JoinHostPort(host, port)
	}
	u := "ws://" + addr + "/ws"
	if document != "" {
		u += "/" + url.PathEscape(document)
	}
	return u
}
