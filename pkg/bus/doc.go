// Package bus routes packets between every party in a lodge process.
//
// A Bus is constructed once by the hosting process and handed to each worker,
// the coordinator and any observers. It delivers every published packet to
// all local subscribers whose Filter matches, in one total publish order, and
// then forwards it to the configured Transport so that other processes
// sharing the transport see it too.
//
// Usage:
//
//	b := bus.New(bus.NewLocalTransport())
//	if err := b.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	unsubscribe := b.Subscribe(bus.Recipient("CRITIC"), func(p packet.Packet) {
//	    log.Printf("received %s from %s", p.Intent, p.Sender)
//	})
//	defer unsubscribe()
//
//	err := b.Publish(ctx, packet.New("COORDINATOR", packet.IntentTaskStart, packet.To("CRITIC")))
//
// Delivery is synchronous with respect to the goroutine that publishes into an
// idle bus. A publish made from inside a handler is queued and delivered after
// the packet currently being dispatched, so handlers never observe
// out-of-order or interleaved delivery.
//
// The bus keeps the most recent packets (1000 by default) in memory for late
// joiners; see History.
package bus
