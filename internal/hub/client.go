package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Client is a websocket observer. Messages are queued on a bounded buffer
// and written by a dedicated goroutine; a full buffer fails Send so the
// hub detaches the client instead of stalling the pipeline.
type Client struct {
	id   string
	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded connection. buffer is the send queue depth.
func NewClient(conn *websocket.Conn, buffer int, log zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	id := "ws-" + uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		log:  log.With().Str("observer", id).Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg without blocking.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg.Data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the pumps. gone is called once the peer disconnects and
// should detach the client from the hub.
func (c *Client) Run(gone func(id string)) {
	go c.writePump()
	go c.readPump(gone)
}

// enqueue is used for replies that bypass the hub (pong).
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(gone func(id string)) {
	defer func() {
		if gone != nil {
			gone(c.id)
		}
		c.Close()
		c.conn.Close()
		c.log.Info().Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		// Application-level keepalive: {"type":"ping","ping":<client ms>}.
		var in struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &in) != nil {
			continue
		}
		if in.Type == "ping" || in.Ping > 0 {
			pong, _ := json.Marshal(map[string]interface{}{
				"type":        "pong",
				"ping":        in.Ping,
				"server_time": time.Now().UnixMilli(),
			})
			c.enqueue(pong)
		}
	}
}
