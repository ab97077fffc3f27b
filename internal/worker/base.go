package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	gocache "github.com/patrickmn/go-cache"
)

// Handler processes one packet for a worker. A returned error (or a panic)
// moves the worker into StateError; it never reaches the bus.
type Handler func(ctx context.Context, p packet.Packet) error

// DefaultGracePeriod is how long a worker shows StateCompleted before
// returning to idle.
const DefaultGracePeriod = 2 * time.Second

// DefaultDedupeWindow is how long a packet's correlation id and intent are
// remembered for duplicate suppression.
const DefaultDedupeWindow = 5 * time.Minute

// Option configures a Base.
type Option func(*Base)

// WithGracePeriod sets how long the completed state is held.
func WithGracePeriod(d time.Duration) Option {
	return func(b *Base) { b.grace = d }
}

// WithColor sets the UI hint reported in Status.
func WithColor(color string) Option {
	return func(b *Base) { b.color = color }
}

// WithDedupeWindow sets how long delivered packets are remembered.
func WithDedupeWindow(d time.Duration) Option {
	return func(b *Base) { b.seen = gocache.New(d, 2*d) }
}

// WithSetup registers a hook run by Start before the worker reports ready.
func WithSetup(fn func(ctx context.Context) error) Option {
	return func(b *Base) { b.setup = fn }
}

// Base gives every worker the same lifecycle, intent dispatch and status
// reporting. Concrete workers register intent handlers with OnIntent.
// Base is safe for concurrent use.
type Base struct {
	name  string
	bus   *bus.Bus
	grace time.Duration
	color string
	setup func(ctx context.Context) error
	seen  *gocache.Cache

	mu           sync.Mutex
	state        State
	goal         string
	lastActivity time.Time
	metrics      Metrics
	handlers     map[packet.Intent]Handler
	unsubs       []bus.Unsubscribe
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	graceTimer   *time.Timer
	graceGen     uint64
}

// NewBase creates a worker named name that communicates over b.
// The worker does nothing until Start is called.
func NewBase(name string, b *bus.Bus, opts ...Option) *Base {
	w := &Base{
		name:     name,
		bus:      b,
		grace:    DefaultGracePeriod,
		seen:     gocache.New(DefaultDedupeWindow, 2*DefaultDedupeWindow),
		state:    StateIdle,
		goal:     GoalStandby,
		handlers: make(map[packet.Intent]Handler),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker's party name.
func (w *Base) Name() string {
	return w.name
}

// Start subscribes the worker to packets addressed to it and to broadcasts,
// then reports ready. Calling Start on a running worker is a no-op.
func (w *Base) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Printf("[Worker:%s] Already running", w.name)
		return nil
	}
	w.state = StateInitializing
	w.goal = "Initializing"
	w.ctx, w.cancel = context.WithCancel(ctx)
	runCtx := w.ctx
	w.mu.Unlock()

	if w.setup != nil {
		if err := w.setup(runCtx); err != nil {
			w.mu.Lock()
			w.cancel()
			w.state = StateError
			w.goal = err.Error()
			w.metrics.Errors++
			w.mu.Unlock()
			return fmt.Errorf("worker %s setup failed: %w", w.name, err)
		}
	}

	direct := w.bus.Subscribe(bus.Addressed(w.name), w.HandlePacket)
	broadcast := w.bus.Subscribe(bus.And(bus.Broadcasts(), bus.Not(bus.FromSender(w.name))), w.HandlePacket)

	w.mu.Lock()
	w.unsubs = append(w.unsubs, direct, broadcast)
	w.running = true
	w.state = StateIdle
	w.goal = GoalStandby
	w.mu.Unlock()

	log.Printf("[Worker:%s] Ready", w.name)
	return nil
}

// OnIntent registers the handler for intent. A later registration for the
// same intent replaces the earlier one.
func (w *Base) OnIntent(intent packet.Intent, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[intent] = h
}

// HandleMessage decodes raw and processes it. Malformed input is logged and
// discarded.
func (w *Base) HandleMessage(raw []byte) {
	p, err := packet.Unmarshal(raw)
	if err != nil {
		log.Printf("[Worker:%s] WARNING: discarding message: %v", w.name, err)
		return
	}
	w.HandlePacket(p)
}

// HandlePacket applies the lifecycle transitions for p and dispatches it to
// the registered handler. It never panics.
func (w *Base) HandlePacket(p packet.Packet) {
	key := p.CorrelationID + ":" + string(p.Intent)
	if err := w.seen.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		log.Printf("[Worker:%s] Ignoring duplicate %s %s", w.name, p.Intent, p.CorrelationID)
		return
	}

	w.mu.Lock()
	w.lastActivity = time.Now()
	w.metrics.PacketsProcessed++
	if p.Intent == packet.IntentTaskStart {
		w.state = StateActive
		w.goal = fmt.Sprintf("Working on %s", describeRound(p))
	}
	h, ok := w.handlers[p.Intent]
	ctx := w.ctx
	w.mu.Unlock()

	started := time.Now()
	var err error
	if ok {
		err = w.invoke(ctx, h, p)
	} else {
		log.Printf("[Worker:%s] No handler for %s from %s", w.name, p.Intent, p.Sender)
	}
	elapsed := time.Since(started)

	w.mu.Lock()
	if err != nil {
		w.metrics.Errors++
		w.state = StateError
		w.goal = err.Error()
		w.mu.Unlock()
		log.Printf("[Worker:%s] Error handling %s from %s: %v", w.name, p.Intent, p.Sender, err)
		return
	}
	w.metrics.observe(elapsed)
	if w.state == StateError {
		w.state = StateIdle
		w.goal = GoalStandby
	}
	w.mu.Unlock()

	if p.Intent == packet.IntentTaskComplete {
		w.Complete()
	}
}

func (w *Base) invoke(ctx context.Context, h Handler, p packet.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, p)
}

// Send publishes a packet from this worker to recipient.
func (w *Base) Send(ctx context.Context, recipient string, intent packet.Intent, content packet.Content) error {
	p := packet.New(w.name, intent, packet.To(recipient), packet.WithContent(content))
	return w.Publish(ctx, p)
}

// Broadcast publishes a packet from this worker to every subscriber.
func (w *Base) Broadcast(ctx context.Context, intent packet.Intent, content packet.Content) error {
	return w.Send(ctx, packet.PartyBroadcast, intent, content)
}

// Publish sends an already constructed packet.
func (w *Base) Publish(ctx context.Context, p packet.Packet) error {
	if err := w.bus.Publish(ctx, p); err != nil {
		return fmt.Errorf("worker %s failed to publish %s: %w", w.name, p.Intent, err)
	}
	return nil
}

// Complete moves the worker to StateCompleted and schedules the return to
// idle after the grace period.
func (w *Base) Complete() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state = StateCompleted
	w.goal = "Done"
	w.graceGen++
	gen := w.graceGen
	if w.graceTimer != nil {
		w.graceTimer.Stop()
	}
	w.graceTimer = time.AfterFunc(w.grace, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.graceGen == gen && w.state == StateCompleted {
			w.state = StateIdle
			w.goal = GoalStandby
		}
	})
}

// Fail records an error that happened outside a handler, such as in work
// running on its own goroutine.
func (w *Base) Fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.Errors++
	w.state = StateError
	w.goal = err.Error()
}

// Wait marks the worker as waiting for its turn.
func (w *Base) Wait(goal string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateIdle || w.state == StateCompleted {
		w.state = StateWaiting
		w.goal = goal
	}
}

// Stop unsubscribes the worker from the bus and returns it to idle.
// Stopping is not an error.
func (w *Base) Stop() {
	w.mu.Lock()
	unsubs := w.unsubs
	w.unsubs = nil
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
	if w.graceTimer != nil {
		w.graceTimer.Stop()
	}
	w.graceGen++
	w.state = StateIdle
	w.goal = GoalStopped
	w.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	log.Printf("[Worker:%s] Stopped", w.name)
}

// Running reports whether Start has completed and Stop has not been called.
func (w *Base) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Context returns the worker's run context, cancelled by Stop.
func (w *Base) Context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

// Status returns a snapshot of the worker.
func (w *Base) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Name:         w.name,
		State:        w.state,
		Goal:         w.goal,
		LastActivity: w.lastActivity,
		Metrics:      w.metrics,
		Color:        w.color,
	}
}

func describeRound(p packet.Packet) string {
	if p.Content.RoundName != "" {
		return p.Content.RoundName
	}
	if p.Content.RoundID != "" {
		return "round " + p.Content.RoundID
	}
	return "task"
}
