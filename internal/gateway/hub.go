// Package gateway pushes live portfolio snapshots to WebSocket clients.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
	"portfolio-tracker/internal/portfolio"
)

// DefaultInterval is how often the hub checks the portfolio for changes.
const DefaultInterval = 500 * time.Millisecond

// Snapshotter yields a consistent copy of the portfolio state.
type Snapshotter interface {
	Snapshot() model.State
}

// Update is the payload of a "portfolio" envelope.
type Update struct {
	Holdings      []model.Holding   `json:"holdings"`
	BaselineValue float64           `json:"baselineValue"`
	Summary       portfolio.Summary `json:"summary"`
}

// envelope wraps every message sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq"`
	TS      string          `json:"ts"`
	Initial bool            `json:"initial,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Hub tracks connected clients and fans out portfolio updates.
type Hub struct {
	src      Snapshotter
	interval time.Duration
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  []byte // last published Update, encoded
	seq     int64

	// Optional hooks (metrics)
	OnClients func(n int)
	OnDrop    func()
}

// NewHub creates a Hub that publishes src whenever it changes. A zero
// interval means DefaultInterval.
func NewHub(src Snapshotter, interval time.Duration, log *slog.Logger) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		src:      src,
		interval: interval,
		log:      logger.Component(log, "gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
	}
}

// Run publishes on every interval tick where the portfolio changed. Blocks
// until ctx is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Publish()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Publish()
		}
	}
}

// Publish encodes the current portfolio and broadcasts it if it differs from
// the last published one. It reports whether anything was sent.
func (h *Hub) Publish() bool {
	state := h.src.Snapshot()
	if state.Holdings == nil {
		state.Holdings = []model.Holding{}
	}
	data, err := json.Marshal(Update{
		Holdings:      state.Holdings,
		BaselineValue: state.BaselineValue,
		Summary:       portfolio.Summarize(state),
	})
	if err != nil {
		h.log.Error("encode update failed", slog.String("error", err.Error()))
		return false
	}

	h.mu.Lock()
	if bytes.Equal(data, h.latest) {
		h.mu.Unlock()
		return false
	}
	h.latest = data
	h.seq++
	msg, err := json.Marshal(envelope{
		Type: "portfolio",
		Seq:  h.seq,
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Data: data,
	})
	if err != nil {
		h.mu.Unlock()
		return false
	}
	for c := range h.clients {
		h.sendLocked(c, msg)
	}
	h.mu.Unlock()
	return true
}

// ServeHTTP upgrades the request and registers the connection as a client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.sendInitialLocked(c)
	h.mu.Unlock()

	h.log.Info("ws client connected", slog.String("remote", r.RemoteAddr), slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// removeClient unregisters c. Safe to call more than once.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.removeClient(c)
	}
}

func (h *Hub) sendInitialLocked(c *Client) {
	if h.latest == nil {
		return
	}
	msg, err := json.Marshal(envelope{
		Type:    "portfolio",
		Seq:     h.seq,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Initial: true,
		Data:    h.latest,
	})
	if err != nil {
		return
	}
	h.sendLocked(c, msg)
}

func (h *Hub) sendLocked(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default: // slow client, drop update
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}
