// Package live pushes every bus packet to connected WebSocket observers.
//
// Clients connect to /ws for all traffic or /ws/{document} for the rounds
// analysing one document. Each client has a bounded send buffer; a client
// that cannot keep up is disconnected rather than slowing the bus down.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/websocket"
)

// Message types exchanged with clients.
const (
	TypeConnected = "connected"
	TypePacket    = "agent:message"
	TypePing      = "ping"
	TypePong      = "pong"
)

// DefaultBufferSize is the per-client send queue length.
const DefaultBufferSize = 256

// DefaultRoundTTL is how long a round's document is remembered after its
// last packet. Rounds that fail or are abandoned end without a completion
// packet and are forgotten this way.
const DefaultRoundTTL = 10 * time.Minute

const writeTimeout = 5 * time.Second

// Message is the JSON frame sent to clients.
type Message struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       *packet.Packet `json:"data,omitempty"`
}

// Option customises a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-client send queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithRoundTTL sets how long an idle round's document is remembered.
func WithRoundTTL(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.roundTTL = d
		}
	}
}

// Hub fans bus packets out to WebSocket clients.
type Hub struct {
	bus        *bus.Bus
	bufferSize int
	roundTTL   time.Duration

	mu          sync.Mutex
	clients     map[*client]struct{}
	rounds      *gocache.Cache // round id -> document id
	unsubscribe bus.Unsubscribe

	server   *http.Server
	listener net.Listener
}

// NewHub creates a hub fed by b. Call Start to begin forwarding.
func NewHub(b *bus.Bus, opts ...Option) *Hub {
	h := &Hub{
		bus:        b,
		bufferSize: DefaultBufferSize,
		roundTTL:   DefaultRoundTTL,
		clients:    make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rounds = gocache.New(h.roundTTL, 2*h.roundTTL)
	return h
}

// Start subscribes to the bus. It is safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsubscribe != nil {
		return
	}
	h.unsubscribe = h.bus.Subscribe(bus.All(), h.broadcast)
}

// Handler returns the WebSocket endpoints.
func (h *Hub) Handler() http.Handler {
	ws := websocket.Server{
		Handler: h.serve,
		// Observers are unauthenticated; accept any origin.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/ws/{document}", ws)
	return mux
}

// Listen binds addr and serves the hub in the background.
func (h *Hub) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.listener = ln
	h.server = &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Live] Server error: %v", err)
		}
	}()

	log.Printf("[Live] Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once Listen has succeeded.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown stops forwarding, disconnects every client and stops the server.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) serve(ws *websocket.Conn) {
	document := ws.Request().PathValue("document")
	c := newClient(ws, document, h.bufferSize)

	greeting := "Connected to lodge updates"
	if document != "" {
		greeting = fmt.Sprintf("Connected to updates for document %s", document)
	}
	c.enqueue(Message{Type: TypeConnected, DocumentID: document, Message: greeting})
	h.add(c)

	go c.writeLoop(h)
	c.readLoop()

	h.remove(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// broadcast runs on the bus delivery path and never blocks.
func (h *Hub) broadcast(p packet.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	document := h.track(p)
	msg := Message{Type: TypePacket, Data: &p}

	for c := range h.clients {
		if c.document != "" && c.document != document {
			continue
		}
		if !c.enqueue(msg) {
			log.Printf("[Live] Dropping slow client %s", c.remoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

// track maintains the round to document mapping and returns the document
// the packet belongs to, if known. The document is learned from ROUND_START
// or TASK_START and forgotten when the coordinator completes or cancels the
// round, or after the round has been idle for roundTTL. Caller holds h.mu.
func (h *Hub) track(p packet.Packet) string {
	roundID := p.Content.RoundID
	if roundID == "" {
		return ""
	}

	document := p.Content.DocumentID
	if in := p.Content.Input; document == "" && in != nil {
		document = in.Page.DocumentID
	}
	if document == "" {
		if v, ok := h.rounds.Get(roundID); ok {
			document = v.(string)
		}
	}

	switch {
	case p.Sender == packet.PartyCoordinator &&
		(p.Intent == packet.IntentTaskComplete || p.Intent == packet.IntentTaskCancel):
		h.rounds.Delete(roundID)
	case document != "":
		h.rounds.Set(roundID, document, gocache.DefaultExpiration)
	}
	return document
}

// client is one connected observer.
type client struct {
	ws       *websocket.Conn
	document string
	send     chan Message

	mu     sync.Mutex
	closed bool
}

func newClient(ws *websocket.Conn, document string, size int) *client {
	return &client{ws: ws, document: document, send: make(chan Message, size)}
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *client) enqueue(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) remoteAddr() string {
	if c.ws == nil || c.ws.Request() == nil {
		return "unknown"
	}
	return c.ws.Request().RemoteAddr
}

func (c *client) writeLoop(h *Hub) {
	defer c.ws.Close()
	for m := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.JSON.Send(c.ws, m); err != nil {
			log.Printf("[Live] Write to %s failed: %v", c.remoteAddr(), err)
			h.remove(c)
			return
		}
	}
}

// readLoop answers pings until the connection closes.
func (c *client) readLoop() {
	for {
		var text string
		if err := websocket.Message.Receive(c.ws, &text); err != nil {
			return
		}
		if isPing(text) {
			c.enqueue(Message{Type: TypePong})
		}
	}
}

func isPing(text string) bool {
	text = strings.TrimSpace(text)
	if text == TypePing {
		return true
	}
	var m struct {
		Type string `json:"type"`
	}
	return json.Unmarshal([]byte(text), &m) == nil && m.Type == TypePing
}
