package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/usecase"
)

const (
	overlaySendBuffer   = 8
	overlayWriteTimeout = 5 * time.Second
	overlayReadLimit    = 512
)

// IndicatorMessage is sent to renderer clients when the focus status changes.
type IndicatorMessage struct {
	Type string               `json:"type"`
	Mode domain.IndicatorMode `json:"mode"`
	At   time.Time            `json:"at"`
}

type overlayMessage struct {
	kind int
	data []byte
}

type overlayClient struct {
	conn     *websocket.Conn
	send     chan overlayMessage
	previews bool
}

// OverlayHub serves renderer clients over websocket. It implements
// domain.OverlaySink for indicator updates and usecase.FrameConsumer for
// binary frame previews. Clients whose send buffer is full are dropped.
type OverlayHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*overlayClient]struct{}
	last    *IndicatorMessage

	dropped atomic.Uint64
}

// NewOverlayHub creates an empty hub.
func NewOverlayHub(logger *zap.Logger) *OverlayHub {
	return &OverlayHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Renderers are local processes without an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.Named("overlay"),
		clients: make(map[*overlayClient]struct{}),
	}
}

// ServeHTTP upgrades the connection. Add ?previews=1 to receive frames.
func (h *OverlayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &overlayClient{
		conn:     conn,
		send:     make(chan overlayMessage, overlaySendBuffer),
		previews: r.URL.Query().Get("previews") == "1",
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	if h.last != nil {
		if data, err := json.Marshal(h.last); err == nil {
			client.send <- overlayMessage{kind: websocket.TextMessage, data: data}
		}
	}
	h.mu.Unlock()

	h.logger.Info("overlay client connected",
		zap.String("remote", r.RemoteAddr),
		zap.Bool("previews", client.previews))

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop discards client input and unregisters the client on close.
func (h *OverlayHub) readLoop(c *overlayClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(overlayReadLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *OverlayHub) writeLoop(c *overlayClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(overlayWriteTimeout))
		if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// remove unregisters c once; closing send stops its write loop.
func (h *OverlayHub) remove(c *overlayClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast queues msg for matching clients. Must hold h.mu.
func (h *OverlayHub) broadcast(msg overlayMessage, previewsOnly bool) int {
	sent := 0
	for c := range h.clients {
		if previewsOnly && !c.previews {
			continue
		}
		select {
		case c.send <- msg:
			sent++
		default:
			h.dropped.Add(1)
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping slow overlay client")
		}
	}
	return sent
}

// ShowIndicator broadcasts the indicator mode and remembers it for clients
// that connect later.
func (h *OverlayHub) ShowIndicator(ctx context.Context, mode domain.IndicatorMode) error {
	msg := &IndicatorMessage{Type: "indicator", Mode: mode, At: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = msg
	h.broadcast(overlayMessage{kind: websocket.TextMessage, data: data}, false)
	return nil
}

// Consume forwards the frame image to preview subscribers.
func (h *OverlayHub) Consume(ctx context.Context, frame domain.CapturedFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast(overlayMessage{kind: websocket.BinaryMessage, data: frame.Image}, true)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *OverlayHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many slow clients were disconnected.
func (h *OverlayHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *OverlayHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

// Ensure OverlayHub implements its interfaces.
var (
	_ domain.OverlaySink    = (*OverlayHub)(nil)
	_ usecase.FrameConsumer = (*OverlayHub)(nil)
	_ http.Handler          = (*OverlayHub)(nil)
)
