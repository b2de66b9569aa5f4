// Package wsclient is the client side of the live connection: a single
// reconnecting transport with an outbound queue, used by one client process
// to reach the server.
package wsclient

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"palaver/internal/wire"
)

const defaultBackoff = 2 * time.Second

// Handler receives every decoded server event.
type Handler func(ev wire.ServerEvent)

// Client is a reconnecting duplex transport. Events sent while the socket
// is not open queue in FIFO order and flush, in order, as soon as it opens.
// An unexpected close triggers a reconnect after a fixed backoff unless
// Disconnect was called first.
type Client struct {
	url     string
	header  http.Header
	backoff time.Duration

	mu              sync.Mutex
	conn            *websocket.Conn
	open            bool
	connecting      bool
	shouldReconnect bool
	reconnectTimer  *time.Timer
	pending         [][]byte
	listeners       map[int]Handler
	nextListener    int
}

// Option alters client construction defaults.
type Option interface {
	apply(*Client)
}

type optionFunc func(c *Client)

func (f optionFunc) apply(c *Client) { f(c) }

// Backoff overrides the fixed reconnect delay.
func Backoff(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		c.backoff = d
	})
}

// New creates a transport for the given ws:// URL authenticating with
// token. It does not connect until Connect is called.
func New(url, token string, opts ...Option) *Client {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c := &Client{
		url:       url,
		header:    header,
		backoff:   defaultBackoff,
		listeners: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Connect opens the socket. It is idempotent while a connection is open or
// being established, and re-enables auto-reconnect after a Disconnect.
func (c *Client) Connect() {
	c.mu.Lock()
	c.shouldReconnect = true
	if c.open || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	go c.dial()
}

func (c *Client) dial() {
	conn, resp, err := websocket.DefaultDialer.Dial(c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.connecting = false

	if err != nil {
		slog.Warn("[WSCLIENT] Dial failed", "url", c.url, "error", err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	if !c.shouldReconnect {
		// Disconnect happened while the dial was in flight
		c.mu.Unlock()
		conn.Close()
		return
	}

	c.conn = conn
	c.open = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	pending := c.pending
	c.pending = nil

	for _, payload := range pending {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Warn("[WSCLIENT] Failed to flush queued frame", "error", err)
			break
		}
	}
	c.mu.Unlock()

	go c.readLoop(conn)
}

// Send serializes an event and writes it, or queues it while not open.
// Queued frames are only ever dropped by an explicit Disconnect.
func (c *Client) Send(ev wire.ClientEvent) error {
	payload, err := wire.EncodeClient(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open && c.conn != nil {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Warn("[WSCLIENT] Write failed", "error", err)
		}
		return nil
	}

	c.pending = append(c.pending, payload)
	return nil
}

// OnMessage registers a handler for every inbound event and returns its
// unsubscribe function.
func (c *Client) OnMessage(h Handler) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Disconnect closes the socket, drops the queue and all listeners, and
// permanently suppresses auto-reconnect until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.shouldReconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.open = false
	c.pending = nil
	c.listeners = make(map[int]Handler)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		ev, err := wire.DecodeServer(payload)
		if err != nil {
			// one bad frame never kills the transport
			slog.Error("[WSCLIENT] Failed to parse server frame", "error", err)
			continue
		}

		for _, h := range c.handlerSnapshot() {
			h(ev)
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.open = false
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
}

// handlerSnapshot copies the listeners in registration order so a handler
// unsubscribing mid-dispatch cannot corrupt the iteration.
func (c *Client) handlerSnapshot() []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.listeners[id])
	}
	return handlers
}

// scheduleReconnectLocked arms the single-shot reconnect timer. Caller
// holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if !c.shouldReconnect || c.reconnectTimer != nil {
		return
	}

	c.reconnectTimer = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		should := c.shouldReconnect
		c.mu.Unlock()
		if should {
			c.Connect()
		}
	})
}
