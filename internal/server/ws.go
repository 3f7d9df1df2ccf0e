package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"PotLedger/internal/observability"
	"PotLedger/internal/round"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans round lifecycle events out to websocket subscribers. Slow
// clients are dropped rather than allowed to back up the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	inputChan <-chan round.Output
	metrics   *observability.Metrics
	log       zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// wsMessage is the wire envelope pushed to subscribers.
type wsMessage struct {
	EventType string      `json:"event_type"`
	RoundID   int64       `json:"round_id"`
	Payload   interface{} `json:"payload"`
}

func NewHub(inputChan <-chan round.Output, metrics *observability.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run consumes lifecycle events and broadcasts them until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case out, ok := <-h.inputChan:
			if !ok {
				h.closeAll()
				return nil
			}

			data, err := json.Marshal(wsMessage{
				EventType: out.Event.EventType().String(),
				RoundID:   out.Event.RoundID(),
				Payload:   out.Event,
			})
			if err != nil {
				h.log.Warn().Err(err).Msg("marshal ws message")
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client not draining; drop it on the next write cycle.
			close(c.send)
			go h.remove(c)
		}
	}
}

// ServeWS upgrades the connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is push-only. It exists to
// process pongs and notice closed connections.
func (h *Hub) readPump(c *client) {
	defer func() {
		c.conn.Close()
		h.remove(c)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	if h.metrics != nil {
		h.metrics.WSClients.Set(0)
	}
}
