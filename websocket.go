package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwsl/ubereeg/neuro"
)

const (
	wsSendQueueSize  = 32
	wsSignalInterval = 200 * time.Millisecond
	wsWriteTimeout   = 5 * time.Second
)

// SignalWebSocketHandler streams live signal windows and event
// notifications to browser clients. Each client has a bounded send queue
// drained by its own writer goroutine; a slow client drops frames instead
// of stalling the broadcaster.
type SignalWebSocketHandler struct {
	engine   *neuro.Engine
	metrics  *PrometheusMetrics
	upgrader websocket.Upgrader

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsFrame is the wire envelope for both signal and event frames
type wsFrame struct {
	Type      string             `json:"type"` // "signal" or "event"
	Timestamp float64            `json:"timestamp"`
	Window    []neuro.Sample     `json:"window,omitempty"`
	Event     *neuro.EventRecord `json:"event,omitempty"`
	Streaming bool               `json:"streaming"`
	Events    uint64             `json:"event_count"`
}

// NewSignalWebSocketHandler creates the handler and starts the periodic
// signal broadcaster.
func NewSignalWebSocketHandler(engine *neuro.Engine, metrics *PrometheusMetrics) *SignalWebSocketHandler {
	h := &SignalWebSocketHandler{
		engine:  engine,
		metrics: metrics,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		stopChan: make(chan struct{}),
	}

	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Stop shuts down the broadcaster and disconnects all clients.
func (h *SignalWebSocketHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()

	h.clientsMu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
}

// HandleWebSocket upgrades the request and registers the client.
func (h *SignalWebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendQueueSize),
	}

	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.wsConnections.Set(float64(count))
	}
	log.Printf("WebSocket: client connected from %s (%d active)", r.RemoteAddr, count)

	go h.writeLoop(client)
	go h.readLoop(client)
}

// NotifyEvent is hooked into the engine observer chain and pushes an event
// frame to every client immediately.
func (h *SignalWebSocketHandler) NotifyEvent(rec neuro.EventRecord) {
	frame := wsFrame{
		Type:      "event",
		Timestamp: rec.Timestamp,
		Event:     &rec,
		Streaming: true,
		Events:    rec.Number,
	}
	h.broadcast(frame)
}

// broadcastLoop pushes a window of recent samples to all clients on a
// fixed interval while the engine is streaming.
func (h *SignalWebSocketHandler) broadcastLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(wsSignalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.clientsMu.RLock()
			empty := len(h.clients) == 0
			h.clientsMu.RUnlock()
			if empty {
				continue
			}

			snap := h.engine.Snapshot()
			h.broadcast(wsFrame{
				Type:      "signal",
				Timestamp: float64(time.Now().UnixNano()) / 1e9,
				Window:    snap.Window,
				Streaming: snap.Streaming,
				Events:    snap.EventCount,
			})
		}
	}
}

func (h *SignalWebSocketHandler) broadcast(frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("WebSocket: marshal failed: %v", err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client: drop the frame rather than block the producer.
			if h.metrics != nil {
				h.metrics.wsDropped.Inc()
			}
		}
	}
}

func (h *SignalWebSocketHandler) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		if h.metrics != nil {
			h.metrics.wsFramesSent.Inc()
		}
	}
}

// readLoop exists to detect client disconnects; inbound messages are
// ignored.
func (h *SignalWebSocketHandler) readLoop(c *wsClient) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SignalWebSocketHandler) removeClient(c *wsClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.wsConnections.Set(float64(count))
	}
	log.Printf("WebSocket: client disconnected (%d active)", count)
}
