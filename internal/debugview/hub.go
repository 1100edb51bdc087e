// Package debugview streams frame snapshots to browsers over websockets.
package debugview

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"frametick/internal/eventbus"
	"frametick/internal/host"
	"frametick/pkg/logx"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be below pongWait
	maxMessageSize = 512
	sendBuffer     = 32
)

// Message is the JSON envelope written to every client.
type Message struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the connected clients. Only Run touches the client set.
type Hub struct {
	log      logx.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	done       chan struct{}

	latest  atomic.Pointer[[]byte]
	clients atomic.Int64
	slow    atomic.Uint64
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log: log.With(logx.String("comp", "debugview")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run broadcasts snapshot events from bus until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(8, host.EventSnapshot)
	defer unsub()

	clients := map[*client]struct{}{}
	defer func() {
		for c := range clients {
			close(c.send)
		}
		h.clients.Store(0)
		close(h.done)
		h.log.Info("debug view stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.register:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
			if p := h.latest.Load(); p != nil {
				c.send <- *p
			}
			h.log.Debug("debug client connected", logx.String("remote", c.conn.RemoteAddr().String()))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.clients.Store(int64(len(clients)))
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := encode(ev)
			if err != nil {
				h.log.Warn("debug view encode failed", logx.Err(err))
				continue
			}
			h.latest.Store(&payload)
			for c := range clients {
				select {
				case c.send <- payload:
				default:
					close(c.send)
					delete(clients, c)
					h.slow.Add(1)
				}
			}
			h.clients.Store(int64(len(clients)))
		}
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// Clients is the number of attached connections.
func (h *Hub) Clients() int { return int(h.clients.Load()) }

// Slow counts clients dropped for not keeping up.
func (h *Hub) Slow() uint64 { return h.slow.Load() }

// Latest is the last broadcast payload, or nil.
func (h *Hub) Latest() []byte {
	if p := h.latest.Load(); p != nil {
		return *p
	}
	return nil
}

// readPump discards client input; it exists to process pongs and notice
// disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("debug client read failed", logx.Err(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(ev eventbus.Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: ev.Type, Time: ev.Time, Data: data})
}
