package live

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/lodge/pkg/bus"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func setupHub(t *testing.T, opts ...Option) (*bus.Bus, *Hub, *httptest.Server) {
	b := bus.New(nil)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })

	h := NewHub(b, opts...)
	h.Start()
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Shutdown(context.Background())
		srv.Close()
	})
	return b, h, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.SetDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func receive(t *testing.T, ws *websocket.Conn) Message {
	var m Message
	require.NoError(t, websocket.JSON.Receive(ws, &m))
	return m
}

func waitForClients(t *testing.T, h *Hub, n int) {
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Greeting(t *testing.T) {
	_, h, srv := setupHub(t)

	ws := dial(t, srv, "/ws")
	m := receive(t, ws)
	assert.Equal(t, TypeConnected, m.Type)
	assert.Empty(t, m.DocumentID)
	waitForClients(t, h, 1)

	scoped := dial(t, srv, "/ws/doc-7")
	m = receive(t, scoped)
	assert.Equal(t, TypeConnected, m.Type)
	assert.Equal(t, "doc-7", m.DocumentID)
	assert.Contains(t, m.Message, "doc-7")
}

func TestHub_ForwardsPackets(t *testing.T) {
	b, h, srv := setupHub(t)

	ws := dial(t, srv, "/ws")
	receive(t, ws)
	waitForClients(t, h, 1)

	sent := packet.New("HARVESTER", packet.IntentGraphUpdate, packet.WithContent(packet.Content{Log: "hello"}))
	require.NoError(t, b.Publish(context.Background(), sent))

	m := receive(t, ws)
	assert.Equal(t, TypePacket, m.Type)
	require.NotNil(t, m.Data)
	assert.Equal(t, sent.CorrelationID, m.Data.CorrelationID)
	assert.Equal(t, "hello", m.Data.Content.Log)
}

func TestHub_PingPong(t *testing.T) {
	_, _, srv := setupHub(t)

	ws := dial(t, srv, "/ws")
	receive(t, ws)

	require.NoError(t, websocket.Message.Send(ws, `{"type":"ping"}`))
	assert.Equal(t, TypePong, receive(t, ws).Type)

	require.NoError(t, websocket.Message.Send(ws, "ping"))
	assert.Equal(t, TypePong, receive(t, ws).Type)
}

func TestHub_DocumentScope(t *testing.T) {
	b, h, srv := setupHub(t)

	scoped := dial(t, srv, "/ws/doc-1")
	receive(t, scoped)
	waitForClients(t, h, 1)

	ctx := context.Background()
	start := packet.New(packet.PartyCoordinator, packet.IntentRoundStart, packet.WithContent(packet.Content{
		RoundID:    "r-mine",
		DocumentID: "doc-1",
	}))
	other := packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.To("A"), packet.WithContent(packet.Content{
		RoundID: "r-other",
		Input:   &packet.TaskInput{Page: packet.Page{DocumentID: "doc-2"}},
	}))
	mine := packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.To("A"), packet.WithContent(packet.Content{
		RoundID: "r-mine",
		Input:   &packet.TaskInput{Page: packet.Page{DocumentID: "doc-1"}},
	}))
	result := packet.New("A", packet.IntentGraphUpdate, packet.WithContent(packet.Content{RoundID: "r-mine", Log: "mine"}))

	require.NoError(t, b.Publish(ctx, start))
	require.NoError(t, b.Publish(ctx, other))
	require.NoError(t, b.Publish(ctx, packet.New("A", packet.IntentGraphUpdate, packet.WithContent(packet.Content{RoundID: "r-other"}))))
	require.NoError(t, b.Publish(ctx, mine))
	require.NoError(t, b.Publish(ctx, result))

	first := receive(t, scoped)
	assert.Equal(t, packet.IntentRoundStart, first.Data.Intent, "scoped clients see their round begin")
	assert.Equal(t, start.CorrelationID, first.Data.CorrelationID)
	second := receive(t, scoped)
	assert.Equal(t, mine.CorrelationID, second.Data.CorrelationID)
	third := receive(t, scoped)
	assert.Equal(t, "mine", third.Data.Content.Log)
}

func TestHub_ClientDisconnect(t *testing.T) {
	_, h, srv := setupHub(t)

	ws := dial(t, srv, "/ws")
	receive(t, ws)
	waitForClients(t, h, 1)

	require.NoError(t, ws.Close())
	waitForClients(t, h, 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	b := bus.New(nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Close()

	h := NewHub(b)
	slow := newClient(nil, "", 1)
	h.add(slow)

	h.broadcast(packet.New("A", packet.IntentInfo))
	assert.Equal(t, 1, h.ClientCount())

	h.broadcast(packet.New("A", packet.IntentInfo))
	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, slow.enqueue(Message{Type: TypePong}), "closed client accepts nothing")
}

func TestHub_ForgetsFinishedRounds(t *testing.T) {
	h := NewHub(bus.New(nil))

	h.track(packet.New(packet.PartyCoordinator, packet.IntentTaskStart, packet.WithContent(packet.Content{
		RoundID: "r1",
		Input:   &packet.TaskInput{Page: packet.Page{DocumentID: "doc"}},
	})))
	assert.Equal(t, "doc", h.track(packet.New("A", packet.IntentGraphUpdate, packet.WithContent(packet.Content{RoundID: "r1"}))))

	h.track(packet.New(packet.PartyCoordinator, packet.IntentTaskComplete, packet.WithContent(packet.Content{RoundID: "r1"})))
	assert.Zero(t, h.rounds.ItemCount())
}

func TestHub_ForgetsCancelledRounds(t *testing.T) {
	h := NewHub(bus.New(nil))

	h.track(packet.New(packet.PartyCoordinator, packet.IntentRoundStart, packet.WithContent(packet.Content{
		RoundID:    "r1",
		DocumentID: "doc",
	})))
	h.track(packet.New(packet.PartyCoordinator, packet.IntentTaskCancel, packet.To("A"), packet.WithContent(packet.Content{RoundID: "r1"})))
	assert.Zero(t, h.rounds.ItemCount())

	late := packet.New("A", packet.IntentStageDone, packet.To(packet.PartyCoordinator), packet.WithContent(packet.Content{RoundID: "r1"}))
	assert.Empty(t, h.track(late))
	assert.Zero(t, h.rounds.ItemCount(), "late packets do not resurrect the round")
}

func TestHub_ForgetsIdleRounds(t *testing.T) {
	h := NewHub(bus.New(nil), WithRoundTTL(20*time.Millisecond))

	h.track(packet.New(packet.PartyCoordinator, packet.IntentRoundStart, packet.WithContent(packet.Content{
		RoundID:    "r1",
		DocumentID: "doc",
	})))
	result := packet.New("A", packet.IntentGraphUpdate, packet.WithContent(packet.Content{RoundID: "r1"}))
	assert.Equal(t, "doc", h.track(result))

	// A round that errors out never sends TASK_COMPLETE
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.track(result))
}

func TestIsPing(t *testing.T) {
	assert.True(t, isPing("ping"))
	assert.True(t, isPing(` {"type": "ping"} `))
	assert.False(t, isPing(`{"type":"pong"}`))
	assert.False(t, isPing("hello"))
}
