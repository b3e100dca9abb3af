package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	// DefaultFrameThrottle bounds how often frames are pushed to browsers.
	// Accelerated runs produce frames far faster than anything can draw.
	DefaultFrameThrottle = 50 * time.Millisecond
)

// ControlMessage is what browsers may send over the socket.
type ControlMessage struct {
	Action string `json:"action"` // start | stop
}

// Hub fans controller events out to websocket clients. Frames are lossy:
// a frame is dropped for a client whose buffer is full and frames closer
// together than the throttle are skipped. Lifecycle events are queued.
type Hub struct {
	upgrader websocket.Upgrader
	log      logging.Logger
	throttle time.Duration

	register  chan *wsClient
	remove    chan *wsClient
	broadcast chan []byte
	done      chan struct{}

	mu        sync.Mutex
	lastFrame time.Time
	latest    []byte
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a hub. Run must be called for it to deliver anything.
func NewHub(log logging.Logger, throttle time.Duration) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	if throttle < 0 {
		throttle = 0
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:       log,
		throttle:  throttle,
		register:  make(chan *wsClient),
		remove:    make(chan *wsClient),
		broadcast: make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

// Run delivers messages until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*wsClient]struct{})
	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			clients[c] = struct{}{}
		case c := <-h.remove:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					h.log.Debug(ctx, "websocket client lagging; message dropped")
				}
			}
		}
	}
}

// Publish queues a controller event for every client. It is safe to use as
// a sim.Controller subscriber.
func (h *Hub) Publish(ev sim.Event) {
	if ev.Type == sim.EventFrame && !h.admitFrame() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error(context.Background(), "failed to marshal event for websocket", logging.Err(err))
		return
	}
	if ev.Type == sim.EventFrame {
		h.mu.Lock()
		h.latest = data
		h.mu.Unlock()
		select {
		case h.broadcast <- data:
		default:
		}
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *Hub) admitFrame() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	if h.throttle > 0 && now.Sub(h.lastFrame) < h.throttle {
		return false
	}
	h.lastFrame = now
	return true
}

// ServeWS upgrades the request and streams events to the client. Messages
// received from the client are handed to onControl.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, onControl func(context.Context, ControlMessage)) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c, onControl)
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn(context.Background(), "failed to send to websocket client", logging.Err(err))
			h.unregister(c)
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(c *wsClient, onControl func(context.Context, ControlMessage)) {
	defer h.unregister(c)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn(context.Background(), "websocket error", logging.Err(err))
			}
			return
		}
		var msg ControlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.log.Debug(context.Background(), "ignoring malformed control message", logging.Err(err))
			continue
		}
		if onControl != nil {
			onControl(context.Background(), msg)
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	select {
	case h.remove <- c:
	case <-h.done:
	}
}
