package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
)

// Task is the business logic of one pipeline stage.
// Run may block on I/O; it runs on its own goroutine and must honour ctx.
type Task interface {
	Run(ctx context.Context, in packet.TaskInput) ([]packet.Content, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, in packet.TaskInput) ([]packet.Content, error)

func (f TaskFunc) Run(ctx context.Context, in packet.TaskInput) ([]packet.Content, error) {
	return f(ctx, in)
}

// StageWorker is a worker that runs a Task whenever the coordinator hands it
// a stage of a round. Every result is broadcast as it is produced; the stage
// always ends with a STAGE_DONE acknowledgement to the coordinator, even when
// the task fails or is cancelled.
type StageWorker struct {
	*Base
	task Task

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewStageWorker creates a stage worker named name running task.
func NewStageWorker(name string, b *bus.Bus, task Task, opts ...Option) *StageWorker {
	w := &StageWorker{
		Base:     NewBase(name, b, opts...),
		task:     task,
		inflight: make(map[string]context.CancelFunc),
	}

	w.OnIntent(packet.IntentRoundStart, w.handleRoundStart)
	w.OnIntent(packet.IntentTaskStart, w.handleTaskStart)
	w.OnIntent(packet.IntentTaskCancel, w.handleTaskCancel)
	return w
}

func (w *StageWorker) handleRoundStart(_ context.Context, p packet.Packet) error {
	w.Wait(fmt.Sprintf("Queued for %s", describeRound(p)))
	return nil
}

func (w *StageWorker) handleTaskStart(ctx context.Context, p packet.Packet) error {
	roundID := p.Content.RoundID

	if p.Content.Input == nil {
		w.acknowledge(p, 0, errors.New("task start without input"))
		return fmt.Errorf("task start for round %s carried no input", roundID)
	}

	roundCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	if prev, ok := w.inflight[roundID]; ok {
		prev()
	}
	w.inflight[roundID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(roundCtx, cancel, p)
	return nil
}

func (w *StageWorker) handleTaskCancel(_ context.Context, p packet.Packet) error {
	w.mu.Lock()
	cancel, ok := w.inflight[p.Content.RoundID]
	w.mu.Unlock()

	if ok {
		log.Printf("[Worker:%s] Cancelling round %s", w.Name(), p.Content.RoundID)
		cancel()
	}
	return nil
}

// run executes the task for one round off the bus goroutine.
func (w *StageWorker) run(ctx context.Context, cancel context.CancelFunc, req packet.Packet) {
	defer w.wg.Done()
	defer cancel()

	roundID := req.Content.RoundID
	defer func() {
		w.mu.Lock()
		delete(w.inflight, roundID)
		w.mu.Unlock()
	}()

	results, err := w.runTask(ctx, *req.Content.Input)

	count := 0
	for _, result := range results {
		if ctx.Err() != nil {
			break
		}
		result.RoundID = roundID
		result.RoundName = req.Content.RoundName
		result.Stage = w.Name()
		if perr := w.Broadcast(ctx, result.ResultIntent(), result); perr != nil {
			log.Printf("[Worker:%s] %v", w.Name(), perr)
			continue
		}
		count++
	}

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		errContent := packet.Content{
			Log:     fmt.Sprintf("%s failed: %v", w.Name(), err),
			RoundID: roundID,
			Stage:   w.Name(),
			Error:   err.Error(),
		}
		if perr := w.Broadcast(w.Context(), packet.IntentError, errContent); perr == nil {
			count++
		}
	}

	w.acknowledge(req, count, err)

	switch {
	case err == nil:
		w.Complete()
	case errors.Is(err, context.Canceled):
		log.Printf("[Worker:%s] Round %s cancelled after %d packets", w.Name(), roundID, count)
		w.Complete()
	default:
		w.Fail(err)
	}
}

func (w *StageWorker) runTask(ctx context.Context, in packet.TaskInput) (results []packet.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return w.task.Run(ctx, in)
}

// acknowledge tells the coordinator the stage is done with this round.
func (w *StageWorker) acknowledge(req packet.Packet, count int, err error) {
	content := packet.Content{
		RoundID:     req.Content.RoundID,
		Stage:       w.Name(),
		PacketCount: count,
		Log:         fmt.Sprintf("%s finished with %d packets", w.Name(), count),
	}
	if err != nil {
		content.Error = err.Error()
	}

	ack := packet.Reply(req, w.Name(), packet.IntentStageDone, content)
	if perr := w.Publish(w.Context(), ack); perr != nil {
		log.Printf("[Worker:%s] Failed to acknowledge round %s: %v", w.Name(), req.Content.RoundID, perr)
	}
}

// Stop cancels any in-flight rounds, waits for them to acknowledge, then
// stops the underlying worker.
func (w *StageWorker) Stop() {
	w.mu.Lock()
	for _, cancel := range w.inflight {
		cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.Base.Stop()
}
