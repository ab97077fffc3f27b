package agents

import (
	"context"
	"fmt"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
)

// NewObserver creates the OBSERVER worker, which narrates round starts,
// completions and stage failures as INFO broadcasts.
func NewObserver(b *bus.Bus, opts ...worker.Option) *worker.Base {
	w := worker.NewBase(Observer, b, append([]worker.Option{worker.WithColor(Colors[Observer])}, opts...)...)

	w.OnIntent(packet.IntentRoundStart, func(ctx context.Context, p packet.Packet) error {
		w.Wait("Monitoring " + p.Content.RoundName)
		return w.Broadcast(ctx, packet.IntentInfo, packet.Content{
			Log:     fmt.Sprintf("OBSERVER: %s started", p.Content.RoundName),
			RoundID: p.Content.RoundID,
		})
	})

	w.OnIntent(packet.IntentTaskComplete, func(ctx context.Context, p packet.Packet) error {
		if p.Sender != packet.PartyCoordinator {
			return nil
		}
		return w.Broadcast(ctx, packet.IntentInfo, packet.Content{
			Log:     fmt.Sprintf("OBSERVER: %s finished with %d packets", p.Content.RoundName, p.Content.PacketCount),
			RoundID: p.Content.RoundID,
		})
	})

	w.OnIntent(packet.IntentError, func(ctx context.Context, p packet.Packet) error {
		return w.Broadcast(ctx, packet.IntentInfo, packet.Content{
			Log:     fmt.Sprintf("OBSERVER: %s reported an error: %s", p.Sender, p.Content.Error),
			RoundID: p.Content.RoundID,
		})
	})

	return w
}
