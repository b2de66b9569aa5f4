package wsclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"palaver/internal/wire"
)

// echoServer is a minimal ws endpoint that records inbound frames and can
// push frames back or drop the socket on demand.
type echoServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	accepts int32

	mu    sync.Mutex
	conns []*websocket.Conn
	got   chan []byte
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	es := &echoServer{got: make(chan []byte, 64)}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := es.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&es.accepts, 1)
		es.mu.Lock()
		es.conns = append(es.conns, conn)
		es.mu.Unlock()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			es.got <- payload
		}
	}))
	t.Cleanup(es.close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func (es *echoServer) acceptCount() int {
	return int(atomic.LoadInt32(&es.accepts))
}

func (es *echoServer) push(t *testing.T, ev wire.ServerEvent) {
	t.Helper()

	payload, err := wire.EncodeServer(ev)
	require.NoError(t, err)
	es.pushRaw(t, payload)
}

func (es *echoServer) pushRaw(t *testing.T, payload []byte) {
	t.Helper()

	es.mu.Lock()
	defer es.mu.Unlock()
	require.NotEmpty(t, es.conns, "no client connected yet")
	last := es.conns[len(es.conns)-1]
	require.NoError(t, last.WriteMessage(websocket.TextMessage, payload))
}

func (es *echoServer) dropAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, conn := range es.conns {
		conn.Close()
	}
	es.conns = nil
}

func (es *echoServer) close() {
	es.dropAll()
	es.srv.Close()
}

func (es *echoServer) nextFrame(t *testing.T) wire.ClientEvent {
	t.Helper()

	select {
	case payload := <-es.got:
		ev, err := wire.DecodeClient(payload)
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func waitAccepts(t *testing.T, es *echoServer, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for es.acceptCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("server saw %d connections, want %d", es.acceptCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitClosed blocks until the client's read loop has observed the drop.
func waitClosed(t *testing.T, c *Client) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		c.mu.Lock()
		open := c.open
		c.mu.Unlock()
		if !open {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("transport never noticed the dropped socket")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueueFlushesInOrderOnConnect(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "")

	// queued before the socket exists
	require.NoError(t, c.Send(wire.ChannelJoin{ChannelID: 1}))
	require.NoError(t, c.Send(wire.MessageAnnounce{ChannelID: 1, MessageID: 10}))
	require.NoError(t, c.Send(wire.TypingStop{}))

	c.Connect()
	defer c.Disconnect()

	require.Equal(t, wire.ChannelJoin{ChannelID: 1}, es.nextFrame(t))
	require.Equal(t, wire.MessageAnnounce{ChannelID: 1, MessageID: 10}, es.nextFrame(t))
	require.Equal(t, wire.TypingStop{}, es.nextFrame(t))
}

func TestSendWhileOpenWritesDirectly(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "")
	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	require.NoError(t, c.Send(wire.TypingStart{}))
	require.Equal(t, wire.TypingStart{}, es.nextFrame(t))
}

func TestConnectSendsToken(t *testing.T) {
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), "my-token")
	c.Connect()
	defer c.Disconnect()

	select {
	case auth := <-gotAuth:
		require.Equal(t, "Bearer my-token", auth)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestListenersReceiveDecodedEvents(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "")

	events := make(chan wire.ServerEvent, 8)
	c.OnMessage(func(ev wire.ServerEvent) { events <- ev })

	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	es.push(t, wire.UserJoined{Username: "alice"})

	select {
	case ev := <-events:
		require.Equal(t, wire.UserJoined{Username: "alice"}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never fired")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "")

	kept := make(chan wire.ServerEvent, 8)
	dropped := make(chan wire.ServerEvent, 8)
	c.OnMessage(func(ev wire.ServerEvent) { kept <- ev })
	unsubscribe := c.OnMessage(func(ev wire.ServerEvent) { dropped <- ev })
	unsubscribe()

	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	es.push(t, wire.ChannelDeleted{ChannelID: 9})

	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener never fired")
	}
	select {
	case <-dropped:
		t.Fatal("unsubscribed listener must not fire")
	default:
	}
}

func TestBadFrameDoesNotKillTransport(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "")

	events := make(chan wire.ServerEvent, 8)
	c.OnMessage(func(ev wire.ServerEvent) { events <- ev })

	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	es.pushRaw(t, []byte("{not json"))
	es.push(t, wire.UserLeft{Username: "bob"})

	select {
	case ev := <-events:
		require.Equal(t, wire.UserLeft{Username: "bob"}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after a bad one was not delivered")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "", Backoff(30*time.Millisecond))
	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	es.dropAll()

	waitAccepts(t, es, 2)
}

func TestSendDuringOutageQueuesUntilReconnect(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "", Backoff(30*time.Millisecond))
	c.Connect()
	defer c.Disconnect()
	waitAccepts(t, es, 1)

	es.dropAll()
	waitClosed(t, c)

	require.NoError(t, c.Send(wire.ChannelJoin{ChannelID: 5}))

	waitAccepts(t, es, 2)
	require.Equal(t, wire.ChannelJoin{ChannelID: 5}, es.nextFrame(t))
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "", Backoff(20*time.Millisecond))
	c.Connect()
	waitAccepts(t, es, 1)

	c.Disconnect()

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, es.acceptCount(), "no reconnect after an explicit disconnect")
}

func TestConnectAfterDisconnectResumes(t *testing.T) {
	es := newEchoServer(t)
	c := New(es.url(), "", Backoff(20*time.Millisecond))
	c.Connect()
	waitAccepts(t, es, 1)

	c.Disconnect()
	c.Connect()
	defer c.Disconnect()

	waitAccepts(t, es, 2)
}
