package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dyluth/lodge/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestBus creates an initialized in-process bus that is closed on cleanup
func setupTestBus(t *testing.T, opts ...Option) *Bus {
	b := New(NewLocalTransport(), opts...)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

// recorder collects delivered packets
type recorder struct {
	mu      sync.Mutex
	packets []packet.Packet
}

func (r *recorder) handle(p packet.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p)
}

func (r *recorder) all() []packet.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]packet.Packet, len(r.packets))
	copy(out, r.packets)
	return out
}

func TestPublish_DeliversToMatchingSubscribers(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var critic, harvester, everyone recorder
	b.Subscribe(Recipient("CRITIC"), critic.handle)
	b.Subscribe(Recipient("HARVESTER"), harvester.handle)
	b.Subscribe(All(), everyone.handle)

	direct := packet.New("COORDINATOR", packet.IntentTaskStart, packet.To("CRITIC"))
	broadcast := packet.New("OBSERVER", packet.IntentInfo)

	require.NoError(t, b.Publish(ctx, direct))
	require.NoError(t, b.Publish(ctx, broadcast))

	require.Len(t, critic.all(), 2)
	assert.Equal(t, direct.CorrelationID, critic.all()[0].CorrelationID)
	assert.Equal(t, broadcast.CorrelationID, critic.all()[1].CorrelationID)

	require.Len(t, harvester.all(), 1, "harvester only sees the broadcast")
	assert.Equal(t, broadcast.CorrelationID, harvester.all()[0].CorrelationID)

	assert.Len(t, everyone.all(), 2)
}

func TestPublish_OrderIsPublishOrder(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var first, second recorder
	b.Subscribe(All(), first.handle)
	b.Subscribe(WithIntent(packet.IntentInfo), second.handle)

	var want []string
	for i := 0; i < 50; i++ {
		p := packet.New("SYSTEM", packet.IntentInfo, packet.WithContent(packet.Content{Log: fmt.Sprintf("line %d", i)}))
		want = append(want, p.CorrelationID)
		require.NoError(t, b.Publish(ctx, p))
	}

	for _, r := range []*recorder{&first, &second} {
		var got []string
		for _, p := range r.all() {
			got = append(got, p.CorrelationID)
		}
		assert.Equal(t, want, got)
	}
}

func TestPublish_ReentrantPublishIsQueued(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	// First subscriber replies from inside its handler
	b.Subscribe(WithIntent(packet.IntentTaskStart), func(p packet.Packet) {
		record("a:" + string(p.Intent))
		require.NoError(t, b.Publish(ctx, packet.Reply(p, "WORKER", packet.IntentStageDone, packet.Content{})))
		record("a:returned")
	})
	b.Subscribe(All(), func(p packet.Packet) {
		record("b:" + string(p.Intent))
	})

	require.NoError(t, b.Publish(ctx, packet.New("COORDINATOR", packet.IntentTaskStart, packet.To("WORKER"))))

	assert.Equal(t, []string{
		"a:TASK_START",
		"a:returned",
		"b:TASK_START",
		"b:STAGE_DONE",
	}, order, "the reply must not overtake the packet being dispatched")
}

func TestPublish_RejectsInvalidPacket(t *testing.T) {
	b := setupTestBus(t)

	var r recorder
	b.Subscribe(All(), r.handle)

	err := b.Publish(context.Background(), packet.Packet{Sender: "SYSTEM", Intent: "BOGUS"})
	require.Error(t, err)
	assert.Empty(t, r.all())
	assert.Empty(t, b.History(0))
}

func TestPublish_SubscriberIsolation(t *testing.T) {
	b := setupTestBus(t)

	var before, after recorder
	b.Subscribe(All(), before.handle)
	b.Subscribe(All(), func(packet.Packet) { panic("boom") })
	b.Subscribe(All(), after.handle)

	require.NoError(t, b.Publish(context.Background(), packet.New("SYSTEM", packet.IntentInfo)))

	assert.Len(t, before.all(), 1)
	assert.Len(t, after.all(), 1, "a panicking subscriber must not prevent delivery to others")

	// The bus stays usable
	require.NoError(t, b.Publish(context.Background(), packet.New("SYSTEM", packet.IntentInfo)))
	assert.Len(t, after.all(), 2)
}

func TestPublish_EachSubscriberGetsOwnCopy(t *testing.T) {
	b := setupTestBus(t)

	var second recorder
	b.Subscribe(All(), func(p packet.Packet) {
		p.Content.Concept.Term = "mutated"
		p.Content.Concept.BoundingBox[0] = 42
	})
	b.Subscribe(All(), second.handle)

	p := packet.New("HARVESTER", packet.IntentGraphUpdate, packet.WithContent(packet.Content{
		Concept: &packet.Concept{ID: "c1", Term: "GDPR", BoundingBox: []float64{1}},
	}))
	require.NoError(t, b.Publish(context.Background(), p))

	require.Len(t, second.all(), 1)
	assert.Equal(t, "GDPR", second.all()[0].Content.Concept.Term)
	assert.Equal(t, float64(1), second.all()[0].Content.Concept.BoundingBox[0])
	assert.Equal(t, "GDPR", p.Content.Concept.Term, "publisher's packet must be untouched")
}

func TestUnsubscribe(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var r recorder
	unsubscribe := b.Subscribe(All(), r.handle)
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo)))
	unsubscribe()
	require.NoError(t, b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo)))

	assert.Len(t, r.all(), 1)
	assert.Equal(t, 0, b.SubscriberCount())

	// Idempotent
	unsubscribe()
}

func TestUnsubscribe_FromInsideHandler(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var calls int
	var unsubscribe Unsubscribe
	unsubscribe = b.Subscribe(All(), func(packet.Packet) {
		calls++
		unsubscribe()
		// Queued behind the current packet; must not reach this handler
		_ = b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo))
	})

	require.NoError(t, b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo)))
	assert.Equal(t, 1, calls)
}

func TestUnsubscribe_StopsPendingDeliveries(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var late recorder
	var unsubscribeLate Unsubscribe

	// The first handler publishes a follow-up then unsubscribes the second
	// subscriber before the follow-up is dispatched.
	b.Subscribe(WithIntent(packet.IntentTaskStart), func(p packet.Packet) {
		_ = b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo))
		unsubscribeLate()
	})
	unsubscribeLate = b.Subscribe(All(), late.handle)

	require.NoError(t, b.Publish(ctx, packet.New("SYSTEM", packet.IntentTaskStart)))

	assert.Empty(t, late.all())
}

func TestUnsubscribe_DoesNotWaitForRunningHandler(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	unsubscribe := b.Subscribe(All(), func(packet.Packet) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	published := make(chan error, 1)
	go func() { published <- b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo)) }()
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		unsubscribe()
		close(unsubscribed)
	}()
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe blocked on a running handler")
	}

	close(release)
	require.NoError(t, <-published)

	require.NoError(t, b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo)))
	assert.Equal(t, int32(1), calls.Load(), "no delivery starts after unsubscribe returns")
}

func TestHistory(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		p := packet.New("SYSTEM", packet.IntentInfo)
		ids = append(ids, p.CorrelationID)
		require.NoError(t, b.Publish(ctx, p))
	}

	all := b.History(0)
	require.Len(t, all, 5)
	assert.Equal(t, ids[0], all[0].CorrelationID, "oldest first")

	last2 := b.History(2)
	require.Len(t, last2, 2)
	assert.Equal(t, ids[3], last2[0].CorrelationID)
	assert.Equal(t, ids[4], last2[1].CorrelationID)

	assert.Len(t, b.History(100), 5)
}

func TestHistory_Bounded(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 1500; i++ {
		p := packet.New("SYSTEM", packet.IntentInfo)
		ids = append(ids, p.CorrelationID)
		require.NoError(t, b.Publish(ctx, p))
	}

	history := b.History(0)
	require.Len(t, history, DefaultHistorySize)
	for i, p := range history {
		require.Equal(t, ids[500+i], p.CorrelationID, "entry %d", i)
	}
}

func TestHistory_CustomSize(t *testing.T) {
	b := setupTestBus(t, WithHistorySize(3))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), packet.New("SYSTEM", packet.IntentInfo)))
	}
	assert.Len(t, b.History(0), 3)
}

func TestPublish_ConcurrentPublishersAllDelivered(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	var r recorder
	b.Subscribe(All(), r.handle)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = b.Publish(ctx, packet.New("SYSTEM", packet.IntentInfo))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, r.all(), 400)
}

func TestClose(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Initialize(context.Background()))

	var r recorder
	b.Subscribe(All(), r.handle)

	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), packet.New("SYSTEM", packet.IntentInfo))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Empty(t, r.all())

	assert.NoError(t, b.Close(), "close is idempotent")
	assert.True(t, errors.Is(b.Initialize(context.Background()), ErrClosed))
}

// failingTransport is a transport whose Open and Send can be made to fail
type failingTransport struct {
	LocalTransport
	openErr error
	sendErr error
}

func (f *failingTransport) Open(context.Context, func([]byte)) error { return f.openErr }
func (f *failingTransport) Send(context.Context, []byte) error       { return f.sendErr }

func TestInitialize_TransportUnavailable(t *testing.T) {
	b := New(&failingTransport{openErr: errors.New("connection refused")})

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublish_TransportFailureIsReturned(t *testing.T) {
	b := New(&failingTransport{sendErr: errors.New("network down")})
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Close()

	var r recorder
	b.Subscribe(All(), r.handle)

	err := b.Publish(context.Background(), packet.New("SYSTEM", packet.IntentInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Len(t, r.all(), 1, "local delivery happens before forwarding")
}
