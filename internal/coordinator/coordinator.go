package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/lodge/internal/tracing"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStageTimeout bounds how long a stage may run before the round moves on.
const DefaultStageTimeout = 30 * time.Second

// DefaultStages is the pipeline order used when none is configured.
var DefaultStages = []string{"HARVESTER", "ARCHITECT", "CURATOR", "CRITIC"}

// ErrStreamClosed is returned by Run when the caller's stream rejects a packet.
var ErrStreamClosed = errors.New("stream closed")

// Config configures a Coordinator.
type Config struct {
	Stages       []string
	StageTimeout time.Duration
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithTracer records rounds and stages as spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// Coordinator drives rounds through an ordered pipeline of stage workers and
// streams every result of a round back to the caller that started it.
// Several rounds may run at once; all state of a round is scoped by its id.
type Coordinator struct {
	bus          *bus.Bus
	stages       []string
	stageTimeout time.Duration
	tracer       trace.Tracer

	mu      sync.Mutex
	active  map[string]*Round
	counter int
}

// New creates a coordinator publishing on b.
func New(b *bus.Bus, cfg Config, opts ...Option) *Coordinator {
	stages := cfg.Stages
	if len(stages) == 0 {
		stages = DefaultStages
	}
	timeout := cfg.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}

	c := &Coordinator{
		bus:          b,
		stages:       append([]string(nil), stages...),
		stageTimeout: timeout,
		tracer:       tracing.Noop().Tracer(),
		active:       make(map[string]*Round),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stages returns the configured pipeline order.
func (c *Coordinator) Stages() []string {
	return append([]string(nil), c.stages...)
}

// ActiveRounds returns snapshots of the rounds currently running, oldest first.
func (c *Coordinator) ActiveRounds() []Round {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Round, 0, len(c.active))
	for _, r := range c.active {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Round) snapshot() Round {
	cp := *r
	cp.Stages = append([]string(nil), r.Stages...)
	return cp
}

// roundRun is the mutable state of one Run call.
type roundRun struct {
	c     *Coordinator
	round *Round
	emit  EmitFunc
	inbox *inbox

	results []packet.Content
	stage   string
}

// Run executes one round and blocks until it finishes. Every packet of the
// stream is passed to emit in order: ROUND_START, the stage results in
// arrival order, then exactly one TASK_COMPLETE carrying the round id and
// the number of result packets.
//
// A failing or slow stage does not stop the round: its ERROR packets are
// streamed and later stages run on whatever results were accumulated. If ctx
// is cancelled or emit fails, the running stage is sent TASK_CANCEL and Run
// returns an error without emitting the completion packet.
func (c *Coordinator) Run(ctx context.Context, req Request, emit EmitFunc) (result Round, err error) {
	r := c.begin()

	ctx, span := c.tracer.Start(ctx, tracing.SpanRound, trace.WithAttributes(
		tracing.AttrRoundID.String(r.round.ID),
		tracing.AttrRoundName.String(r.round.Name),
	))

	r.emit = emit
	unsubscribe := c.bus.Subscribe(roundFilter(r.round.ID), r.inbox.push)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("coordinator panic in round %s: %v", r.round.ID, rec)
		}
		unsubscribe()

		span.SetAttributes(tracing.AttrPacketCount.Int(r.round.PacketCount))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		result = c.finish(r.round, err)
	}()

	c.logEvent("round_started", map[string]interface{}{
		"round_id":    r.round.ID,
		"round_name":  r.round.Name,
		"document_id": req.Input.DocumentID,
		"page_number": req.Input.PageNumber,
		"stages":      r.round.Stages,
	})

	start := packet.New(packet.PartyCoordinator, packet.IntentRoundStart, packet.WithContent(packet.Content{
		Log:        fmt.Sprintf("Starting %s", r.round.Name),
		RoundID:    r.round.ID,
		RoundName:  r.round.Name,
		DocumentID: req.Input.DocumentID,
	}))
	if err := r.announce(ctx, start); err != nil {
		return Round{}, err
	}

	for _, stage := range c.stages {
		if err := r.runStage(ctx, req, stage); err != nil {
			return Round{}, err
		}
	}

	done := packet.New(packet.PartyCoordinator, packet.IntentTaskComplete, packet.WithContent(packet.Content{
		Log:         fmt.Sprintf("%s complete", r.round.Name),
		RoundID:     r.round.ID,
		RoundName:   r.round.Name,
		DocumentID:  req.Input.DocumentID,
		PacketCount: r.round.PacketCount,
	}))
	if err := r.announce(ctx, done); err != nil {
		return Round{}, err
	}

	return Round{}, nil
}

// roundFilter selects the packets a round listens to: results produced by
// workers for the round and stage acknowledgements addressed to the
// coordinator.
func roundFilter(roundID string) bus.Filter {
	return bus.And(
		bus.ForRound(roundID),
		bus.Not(bus.FromSender(packet.PartyCoordinator)),
		bus.Or(
			func(p packet.Packet) bool { return streamed(p.Intent) },
			bus.And(bus.WithIntent(packet.IntentStageDone), bus.Addressed(packet.PartyCoordinator)),
		),
	)
}

// streamed reports whether a worker packet with intent i is forwarded to
// the caller. TASK_COMPLETE is reserved for the coordinator's own
// end-of-round packet.
func streamed(i packet.Intent) bool {
	return i.ResultBearing() && i != packet.IntentTaskComplete
}

func (c *Coordinator) begin() *roundRun {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	round := &Round{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Round %d", c.counter),
		StartedAt: time.Now().UTC(),
		Status:    RoundActive,
		Stages:    append([]string(nil), c.stages...),
	}
	c.active[round.ID] = round

	return &roundRun{c: c, round: round, inbox: newInbox()}
}

func (c *Coordinator) finish(round *Round, err error) Round {
	c.mu.Lock()
	round.CompletedAt = time.Now().UTC()
	round.Stage = ""
	if err != nil {
		round.Status = RoundError
	} else {
		round.Status = RoundCompleted
	}
	delete(c.active, round.ID)
	snapshot := round.snapshot()
	c.mu.Unlock()

	fields := map[string]interface{}{
		"round_id":     round.ID,
		"status":       string(snapshot.Status),
		"packet_count": snapshot.PacketCount,
		"duration_ms":  snapshot.CompletedAt.Sub(snapshot.StartedAt).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logEvent("round_finished", fields)

	return snapshot
}

func (c *Coordinator) setStage(round *Round, stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	round.Stage = stage
}

func (c *Coordinator) addPackets(round *Round, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	round.PacketCount += n
}

// runStage hands one stage its input and forwards everything the round
// receives until the stage acknowledges or times out.
func (r *roundRun) runStage(ctx context.Context, req Request, stage string) error {
	c := r.c
	c.setStage(r.round, stage)
	r.stage = stage

	ctx, span := c.tracer.Start(ctx, tracing.SpanStage, trace.WithAttributes(
		tracing.AttrRoundID.String(r.round.ID),
		tracing.AttrStage.String(stage),
	))
	defer span.End()

	input := packet.TaskInput{
		Page:       req.Input,
		Exclusions: req.Exclusions,
		Results:    append([]packet.Content(nil), r.results...),
	}
	task := packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.To(stage), packet.WithContent(packet.Content{
		Log:       fmt.Sprintf("Dispatching %s for %s", stage, r.round.Name),
		RoundID:   r.round.ID,
		RoundName: r.round.Name,
		Stage:     stage,
		Input:     &input,
	}))

	c.logEvent("stage_started", map[string]interface{}{
		"round_id":      r.round.ID,
		"stage":         stage,
		"input_results": len(input.Results),
	})

	if err := c.bus.Publish(ctx, task); err != nil {
		span.RecordError(err)
		log.Printf("[Coordinator] Failed to dispatch %s: %v", stage, err)
		return r.report(ctx, stage, fmt.Sprintf("failed to dispatch stage %s: %v", stage, err))
	}

	timer := time.NewTimer(c.stageTimeout)
	defer timer.Stop()

	before := r.round.PacketCount
	for {
		select {
		case <-ctx.Done():
			r.cancel(stage)
			return ctx.Err()

		case <-timer.C:
			span.SetAttributes(tracing.AttrTimedOut.Bool(true))
			c.logEvent("stage_timeout", map[string]interface{}{
				"round_id":   r.round.ID,
				"stage":      stage,
				"timeout_ms": c.stageTimeout.Milliseconds(),
			})
			r.cancel(stage)
			return r.report(ctx, stage, fmt.Sprintf("stage %s timed out after %s", stage, c.stageTimeout))

		case <-r.inbox.notify:
			acknowledged := false
			for _, p := range r.inbox.drain() {
				if p.Intent == packet.IntentStageDone {
					if p.Sender == stage && p.Content.Stage == stage {
						acknowledged = true
					}
					continue
				}
				if err := r.forward(p); err != nil {
					r.cancel(stage)
					return err
				}
			}
			if acknowledged {
				span.SetAttributes(tracing.AttrPacketCount.Int(r.round.PacketCount - before))
				c.logEvent("stage_completed", map[string]interface{}{
					"round_id":     r.round.ID,
					"stage":        stage,
					"packet_count": r.round.PacketCount - before,
				})
				return nil
			}
		}
	}
}

// forward streams a worker packet and accumulates its result for later stages.
func (r *roundRun) forward(p packet.Packet) error {
	if err := r.emit(p); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	r.c.addPackets(r.round, 1)

	switch p.Intent {
	case packet.IntentGraphUpdate, packet.IntentHypothesis, packet.IntentCritique:
		content := p.Content
		content.Input = nil
		r.results = append(r.results, content)
	}
	return nil
}

// report streams a coordinator-originated ERROR for stage.
func (r *roundRun) report(ctx context.Context, stage, msg string) error {
	p := packet.New(packet.PartyCoordinator, packet.IntentError, packet.WithContent(packet.Content{
		Log:     msg,
		RoundID: r.round.ID,
		Stage:   stage,
		Error:   msg,
	}))
	if err := r.announce(ctx, p); err != nil {
		return err
	}
	r.c.addPackets(r.round, 1)
	return nil
}

// announce publishes a coordinator packet to observers and streams it.
func (r *roundRun) announce(ctx context.Context, p packet.Packet) error {
	if err := r.c.bus.Publish(ctx, p); err != nil {
		log.Printf("[Coordinator] Failed to publish %s for round %s: %v", p.Intent, r.round.ID, err)
	}
	if err := r.emit(p); err != nil {
		r.cancel(r.stage)
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return nil
}

// cancel tells a running stage to abandon the round.
func (r *roundRun) cancel(stage string) {
	if stage == "" {
		return
	}

	p := packet.New(packet.PartyCoordinator, packet.IntentTaskCancel, packet.To(stage), packet.WithContent(packet.Content{
		Log:     fmt.Sprintf("Cancelling %s for %s", stage, r.round.Name),
		RoundID: r.round.ID,
		Stage:   stage,
	}))
	if err := r.c.bus.Publish(context.Background(), p); err != nil {
		log.Printf("[Coordinator] Failed to cancel %s for round %s: %v", stage, r.round.ID, err)
	}
}

// logEvent logs a structured event in JSON format.
func (c *Coordinator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
