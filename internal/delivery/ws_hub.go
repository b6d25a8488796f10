package delivery

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voice_turn/internal/domain"
	"github.com/Vovarama1992/voice_turn/internal/presentation"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame уходит клиенту: сигнал хода или снимок экрана.
type wsFrame struct {
	Kind   string                 `json:"kind"`
	Signal *domain.PipelineSignal `json:"signal,omitempty"`
	View   *presentation.View     `json:"view,omitempty"`
}

// wsCommand: то, что клиент может прислать.
type wsCommand struct {
	Type string `json:"type"` // toggle | cancel
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub рассылает сигналы и снимки экрана всем подключённым клиентам.
// Медленный клиент, у которого переполнился буфер, отключается.
type Hub struct {
	ctrl TurnControl
	log  *logger.ZapLogger

	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	lastView []byte
	closed   bool
}

func NewHub(ctrl TurnControl, log *logger.ZapLogger) *Hub {
	return &Hub{
		ctrl:    ctrl,
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

// Render implements presentation.Renderer.
func (h *Hub) Render(v presentation.View) {
	data, err := json.Marshal(wsFrame{Kind: "view", View: &v})
	if err != nil {
		return
	}
	h.mu.Lock()
	h.lastView = data
	h.mu.Unlock()
	h.broadcast(data)
}

// RunSignals forwards controller signals until the channel closes.
func (h *Hub) RunSignals(ctx context.Context, signals <-chan domain.PipelineSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			data, err := json.Marshal(wsFrame{Kind: "signal", Signal: &sig})
			if err != nil {
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "ws upgrade failed", Error: err, Service: "delivery"})
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.lastView != nil {
		c.send <- h.lastView
	}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Log(logger.LogEntry{Level: "warn", Message: "ws client too slow, dropping", Service: "delivery"})
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var cmd wsCommand
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		switch strings.ToLower(cmd.Type) {
		case "toggle":
			h.ctrl.Toggle()
		case "cancel":
			h.ctrl.Cancel()
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
