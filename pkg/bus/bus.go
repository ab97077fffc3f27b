package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dyluth/lodge/pkg/packet"
)

// ErrClosed is returned when publishing to a bus that has been closed.
var ErrClosed = errors.New("bus closed")

// Handler receives a matching packet. Each handler gets its own decoded copy,
// so mutating it cannot affect other subscribers.
type Handler func(p packet.Packet)

// Unsubscribe stops delivery to a subscriber. No delivery to the handler
// starts after it returns, but a call already running on another goroutine
// is not waited for, so a handler may unsubscribe itself. Safe to call more
// than once.
type Unsubscribe func()

type subscriber struct {
	id      uint64
	filter  Filter
	handler Handler
	active  atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize overrides the number of packets kept by History.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		b.history = newRing(n)
	}
}

// Bus is a publish/subscribe router for packets.
// It is safe for concurrent use by multiple goroutines.
type Bus struct {
	transport Transport

	mu          sync.Mutex
	subs        []*subscriber
	nextID      uint64
	history     *ring
	queue       [][]byte
	draining    bool
	initialized bool
	closed      bool
}

// New creates a bus over transport. A nil transport keeps packets in-process.
func New(transport Transport, opts ...Option) *Bus {
	if transport == nil {
		transport = NewLocalTransport()
	}

	b := &Bus{
		transport: transport,
		history:   newRing(DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize opens the transport. It is idempotent.
// A remote transport that cannot be reached yields ErrTransportUnavailable.
func (b *Bus) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.transport.Open(ctx, b.receive); err != nil {
		if !errors.Is(err, ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
		return fmt.Errorf("failed to initialize %s transport: %w", b.transport.Name(), err)
	}

	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()

	log.Printf("[Bus] Initialized with %s transport", b.transport.Name())
	return nil
}

// Publish validates p, records it in history, delivers it to every matching
// local subscriber and then forwards it to the transport.
//
// Delivery order is the order in which packets enter the bus. When Publish is
// called from inside a handler the packet is queued behind the one being
// dispatched and Publish returns without waiting for it to be delivered.
// A transport failure is returned after local delivery has happened.
func (b *Bus) Publish(ctx context.Context, p packet.Packet) error {
	data, err := packet.Marshal(p)
	if err != nil {
		return err
	}

	if err := b.enqueue(data); err != nil {
		return err
	}

	if err := b.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("failed to forward %s packet over %s transport: %w", p.Intent, b.transport.Name(), err)
	}
	return nil
}

// receive handles a packet that arrived from another process.
func (b *Bus) receive(data []byte) {
	if _, err := packet.Unmarshal(data); err != nil {
		log.Printf("[Bus] WARNING: discarding remote packet: %v", err)
		return
	}

	if err := b.enqueue(data); err != nil {
		log.Printf("[Bus] Dropping remote packet: %v", err)
	}
}

// enqueue records data and drains the queue if no other goroutine is doing so.
func (b *Bus) enqueue(data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.history.add(data)
	b.queue = append(b.queue, data)
	if b.draining {
		b.mu.Unlock()
		return nil
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return nil
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		data := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := make([]*subscriber, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		b.dispatch(data, subs)
	}
}

func (b *Bus) dispatch(data []byte, subs []*subscriber) {
	p, err := packet.Unmarshal(data)
	if err != nil {
		log.Printf("[Bus] WARNING: undeliverable packet: %v", err)
		return
	}

	for _, s := range subs {
		if !s.active.Load() || !s.filter(p) {
			continue
		}

		// Fresh copy per subscriber
		own, err := packet.Unmarshal(data)
		if err != nil {
			continue
		}
		b.deliver(s, own)
	}
}

func (b *Bus) deliver(s *subscriber, p packet.Packet) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] Subscriber %d panicked handling %s from %s: %v", s.id, p.Intent, p.Sender, r)
		}
	}()

	if !s.active.Load() {
		return
	}
	s.handler(p)
}

// Subscribe registers handler for packets matching filter. A nil filter
// matches everything. The subscriber only sees packets published after
// Subscribe returns.
func (b *Bus) Subscribe(filter Filter, handler Handler) Unsubscribe {
	if filter == nil {
		filter = All()
	}

	b.mu.Lock()
	b.nextID++
	s := &subscriber{id: b.nextID, filter: filter, handler: handler}
	s.active.Store(true)
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			b.remove(s.id)
		})
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// History returns up to limit of the most recent packets, oldest first.
// A limit of zero or less returns everything retained.
func (b *Bus) History(limit int) []packet.Packet {
	b.mu.Lock()
	raw := b.history.last(limit)
	b.mu.Unlock()

	out := make([]packet.Packet, 0, len(raw))
	for _, data := range raw {
		p, err := packet.Unmarshal(data)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TransportName reports which transport the bus forwards to.
func (b *Bus) TransportName() string {
	return b.transport.Name()
}

// Ping checks the transport. Used by health checks.
func (b *Bus) Ping(ctx context.Context) error {
	return b.transport.Ping(ctx)
}

// Close drops every subscriber and closes the transport.
// Publishing after Close returns ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		s.active.Store(false)
	}
	b.subs = nil
	b.queue = nil
	b.mu.Unlock()

	return b.transport.Close()
}
