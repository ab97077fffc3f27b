package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records packets in a goroutine-safe way
type collector struct {
	mu      sync.Mutex
	packets []packet.Packet
}

func (c *collector) handle(p packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
}

func (c *collector) snapshot() []packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]packet.Packet, len(c.packets))
	copy(out, c.packets)
	return out
}

func (c *collector) withIntent(i packet.Intent) []packet.Packet {
	var out []packet.Packet
	for _, p := range c.snapshot() {
		if p.Intent == i {
			out = append(out, p)
		}
	}
	return out
}

func taskStart(stage, roundID string, in packet.TaskInput) packet.Packet {
	return packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.To(stage),
		packet.WithContent(packet.Content{RoundID: roundID, Stage: stage, Input: &in}))
}

func setupStageWorker(t *testing.T, b *bus.Bus, name string, task Task) *StageWorker {
	w := NewStageWorker(name, b, task, WithGracePeriod(10*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestStageWorker_BroadcastsResultsThenAcknowledges(t *testing.T) {
	b := setupTestBus(t)
	var c collector
	b.Subscribe(bus.All(), c.handle)

	task := TaskFunc(func(_ context.Context, in packet.TaskInput) ([]packet.Content, error) {
		return []packet.Content{
			{Concept: &packet.Concept{ID: "c1", Term: in.Page.Text}},
			{Hypothesis: &packet.Hypothesis{ID: "h1", TargetConceptID: "c1"}},
		}, nil
	})
	w := setupStageWorker(t, b, "HARVESTER", task)

	req := taskStart("HARVESTER", "r1", packet.TaskInput{Page: packet.Page{Text: "GDPR"}})
	publish(t, b, req)

	require.Eventually(t, func() bool {
		return len(c.withIntent(packet.IntentStageDone)) == 1
	}, time.Second, 5*time.Millisecond)

	updates := c.withIntent(packet.IntentGraphUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "GDPR", updates[0].Content.Concept.Term)
	assert.Equal(t, "r1", updates[0].Content.RoundID)
	assert.Equal(t, "HARVESTER", updates[0].Content.Stage)
	assert.True(t, updates[0].IsBroadcast())

	hyps := c.withIntent(packet.IntentHypothesis)
	require.Len(t, hyps, 1)

	ack := c.withIntent(packet.IntentStageDone)[0]
	assert.Equal(t, packet.PartyCoordinator, ack.Recipient)
	assert.Equal(t, req.CorrelationID, ack.CorrelationID)
	assert.Equal(t, "r1", ack.Content.RoundID)
	assert.Equal(t, "HARVESTER", ack.Content.Stage)
	assert.Equal(t, 2, ack.Content.PacketCount)
	assert.Empty(t, ack.Content.Error)

	// The acknowledgement follows every result
	all := c.snapshot()
	assert.Equal(t, packet.IntentStageDone, all[len(all)-1].Intent)

	assert.Eventually(t, func() bool {
		return w.Status().State == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestStageWorker_TaskErrorIsReported(t *testing.T) {
	b := setupTestBus(t)
	var c collector
	b.Subscribe(bus.All(), c.handle)

	task := TaskFunc(func(context.Context, packet.TaskInput) ([]packet.Content, error) {
		return nil, errors.New("generation service unavailable")
	})
	w := setupStageWorker(t, b, "HARVESTER", task)

	publish(t, b, taskStart("HARVESTER", "r1", packet.TaskInput{}))

	require.Eventually(t, func() bool {
		return len(c.withIntent(packet.IntentStageDone)) == 1
	}, time.Second, 5*time.Millisecond)

	errs := c.withIntent(packet.IntentError)
	require.Len(t, errs, 1)
	assert.Equal(t, "generation service unavailable", errs[0].Content.Error)
	assert.Equal(t, "r1", errs[0].Content.RoundID)

	ack := c.withIntent(packet.IntentStageDone)[0]
	assert.Equal(t, 1, ack.Content.PacketCount)
	assert.Equal(t, "generation service unavailable", ack.Content.Error)

	require.Eventually(t, func() bool {
		return w.Status().State == StateError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), w.Status().Metrics.Errors)
}

func TestStageWorker_TaskPanicIsReported(t *testing.T) {
	b := setupTestBus(t)
	var c collector
	b.Subscribe(bus.All(), c.handle)

	task := TaskFunc(func(context.Context, packet.TaskInput) ([]packet.Content, error) {
		panic("nil map")
	})
	setupStageWorker(t, b, "CURATOR", task)

	publish(t, b, taskStart("CURATOR", "r1", packet.TaskInput{}))

	require.Eventually(t, func() bool {
		return len(c.withIntent(packet.IntentStageDone)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, c.withIntent(packet.IntentStageDone)[0].Content.Error, "nil map")
}

func TestStageWorker_MissingInputIsAcknowledged(t *testing.T) {
	b := setupTestBus(t)
	var c collector
	b.Subscribe(bus.All(), c.handle)

	w := setupStageWorker(t, b, "CRITIC", TaskFunc(func(context.Context, packet.TaskInput) ([]packet.Content, error) {
		t.Error("task must not run without input")
		return nil, nil
	}))

	publish(t, b, packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.To("CRITIC"),
		packet.WithContent(packet.Content{RoundID: "r1"})))

	acks := c.withIntent(packet.IntentStageDone)
	require.Len(t, acks, 1)
	assert.NotEmpty(t, acks[0].Content.Error)
	assert.Equal(t, StateError, w.Status().State)
}

func TestStageWorker_Cancel(t *testing.T) {
	b := setupTestBus(t)
	var c collector
	b.Subscribe(bus.All(), c.handle)

	started := make(chan struct{})
	task := TaskFunc(func(ctx context.Context, _ packet.TaskInput) ([]packet.Content, error) {
		close(started)
		<-ctx.Done()
		return []packet.Content{{Concept: &packet.Concept{ID: "late"}}}, ctx.Err()
	})
	w := setupStageWorker(t, b, "HARVESTER", task)

	publish(t, b, taskStart("HARVESTER", "r1", packet.TaskInput{}))
	<-started

	publish(t, b, packet.New(packet.PartyCoordinator, packet.IntentTaskCancel, packet.To("HARVESTER"),
		packet.WithContent(packet.Content{RoundID: "r1"})))

	require.Eventually(t, func() bool {
		return len(c.withIntent(packet.IntentStageDone)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, c.withIntent(packet.IntentGraphUpdate), "results of a cancelled round are not published")
	assert.Empty(t, c.withIntent(packet.IntentError), "cancellation is not reported as an error")
	assert.NotEqual(t, StateError, w.Status().State)
}

func TestStageWorker_StopCancelsInflight(t *testing.T) {
	b := setupTestBus(t)

	started := make(chan struct{})
	finished := make(chan struct{})
	task := TaskFunc(func(ctx context.Context, _ packet.TaskInput) ([]packet.Content, error) {
		close(started)
		<-ctx.Done()
		close(finished)
		return nil, ctx.Err()
	})
	w := NewStageWorker("HARVESTER", b, task)
	require.NoError(t, w.Start(context.Background()))

	publish(t, b, taskStart("HARVESTER", "r1", packet.TaskInput{}))
	<-started

	w.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop must wait for in-flight tasks")
	}
	assert.Equal(t, StateIdle, w.Status().State)
}

func TestStageWorker_RoundStartMarksWaiting(t *testing.T) {
	b := setupTestBus(t)
	w := setupStageWorker(t, b, "CRITIC", TaskFunc(func(context.Context, packet.TaskInput) ([]packet.Content, error) {
		return nil, nil
	}))

	publish(t, b, packet.New(packet.PartyCoordinator, packet.IntentRoundStart,
		packet.WithContent(packet.Content{RoundID: "r1", RoundName: "Round 1"})))

	assert.Equal(t, StateWaiting, w.Status().State)
	assert.Contains(t, w.Status().Goal, "Round 1")
}
