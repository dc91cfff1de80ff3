package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is the per-session metrics frame pushed to a subscriber once per
// interval. ThroughputMbps is derived by the hub from the byte counters of
// consecutive frames.
type Snapshot struct {
	Timestamp      string  `json:"timestamp"`
	SessionID      string  `json:"session_id,omitempty"`
	Status         string  `json:"status"`
	BytesSent      int64   `json:"bytes_sent"`
	BytesReceived  int64   `json:"bytes_received"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	PingMs         int     `json:"ping_ms,omitempty"`
	ServerLoad     float64 `json:"server_load,omitempty"`
}

// SnapshotFunc produces the current frame for a subscriber. done=true means
// the session is over: the hub sends this frame as the final one and closes
// the channel.
type SnapshotFunc func(ctx context.Context, subscriberID string) (*Snapshot, bool)

// AggregateFunc produces the operator dashboard frame.
type AggregateFunc func(ctx context.Context) interface{}

// Message is the envelope for every frame on the wire
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one websocket connection
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	subscriberID string // empty for operator connections
	operator     bool

	// throughput derivation state, touched only by the hub loop
	lastTotal int64
	lastAt    time.Time
}

// Hub pushes live session metrics to subscribers and aggregate counters to
// operators. One channel per subscriber: a second connection for the same
// subscriber displaces the first.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Client
	operators   map[*Client]bool

	register   chan *Client
	unregister chan *Client

	interval  time.Duration
	snapshot  SnapshotFunc
	aggregate AggregateFunc
	upgrader  websocket.Upgrader
}

// NewHub creates a hub pushing at the given interval. checkOrigin follows
// the API's CORS policy.
func NewHub(interval time.Duration, snapshot SnapshotFunc, aggregate AggregateFunc, checkOrigin func(r *http.Request) bool) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	return &Hub{
		subscribers: make(map[string]*Client),
		operators:   make(map[*Client]bool),
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		interval:    interval,
		snapshot:    snapshot,
		aggregate:   aggregate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Run is the hub's main loop; it exits when ctx is canceled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case <-ticker.C:
			h.push(ctx)
		}
	}
}

// ClientCount returns the number of connected clients of both kinds
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers) + len(h.operators)
}

// ServeSubscriber upgrades the request and attaches a subscriber channel
func (h *Hub) ServeSubscriber(w http.ResponseWriter, r *http.Request, subscriberID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] Upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, 64),
		subscriberID: subscriberID,
		lastAt:       time.Now(),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ServeOperator upgrades the request and attaches an operator channel
func (h *Hub) ServeOperator(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] Upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		operator: true,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	if client.operator {
		h.operators[client] = true
		h.mu.Unlock()
		log.Printf("[ws] Operator channel connected")
		return
	}

	// Displace a prior connection for the same subscriber
	if prior, ok := h.subscribers[client.subscriberID]; ok {
		delete(h.subscribers, client.subscriberID)
		close(prior.send)
	}
	h.subscribers[client.subscriberID] = client
	h.mu.Unlock()
	log.Printf("[ws] Subscriber channel connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.operator {
		if h.operators[client] {
			delete(h.operators, client)
			close(client.send)
		}
		return
	}
	// Only remove if this exact connection is still the registered one
	if current, ok := h.subscribers[client.subscriberID]; ok && current == client {
		delete(h.subscribers, client.subscriberID)
		close(client.send)
	}
}

// push fans out one round of frames. Slow clients have frames dropped rather
// than stalling the loop.
func (h *Hub) push(ctx context.Context) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.subscribers))
	for _, c := range h.subscribers {
		subs = append(subs, c)
	}
	ops := make([]*Client, 0, len(h.operators))
	for c := range h.operators {
		ops = append(ops, c)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, client := range subs {
		snap, done := h.snapshot(ctx, client.subscriberID)
		if snap == nil {
			continue
		}
		snap.Timestamp = now.Format(time.RFC3339)
		snap.ThroughputMbps = client.deriveThroughput(snap, now)

		h.send(client, Message{Type: "session_metrics", Data: snap})
		if done {
			// Final frame delivered; close the channel from the loop itself
			h.remove(client)
		}
	}

	if len(ops) > 0 && h.aggregate != nil {
		frame := Message{Type: "platform_metrics", Data: h.aggregate(ctx)}
		for _, client := range ops {
			h.send(client, frame)
		}
	}
}

func (h *Hub) send(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] Failed to marshal %s frame: %v", msg.Type, err)
		return
	}
	select {
	case client.send <- data:
	default:
		// Buffer full; drop this frame, the next tick supersedes it anyway
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.subscribers {
		delete(h.subscribers, id)
		close(client.send)
	}
	for client := range h.operators {
		delete(h.operators, client)
		close(client.send)
	}
}

// deriveThroughput computes Mbit/s from the counter delta since the last frame
func (c *Client) deriveThroughput(snap *Snapshot, now time.Time) float64 {
	total := snap.BytesSent + snap.BytesReceived
	elapsed := now.Sub(c.lastAt).Seconds()
	defer func() {
		c.lastTotal = total
		c.lastAt = now
	}()

	if elapsed <= 0 || total < c.lastTotal || c.lastTotal == 0 {
		return 0
	}
	return float64(total-c.lastTotal) * 8 / elapsed / 1e6
}

// readPump drains client frames; the push model means we only care about
// liveness, not content
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] Read error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
