// cmd/tickserver serves a simulated combined ticker stream so the tracker can
// run without reaching the public exchange.
//
// Clients connect to /stream?streams=btcusdt@ticker/ethusdt@ticker and receive
// only the symbols they asked for, framed the way the live feed frames them:
//
//	{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"43210.12000000"}}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default "1000")
//	LOG_LEVEL         debug|info|warn|error (default "info")
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"portfolio-tracker/internal/logger"
)

// tickerEvent is the data part of a ticker frame.
type tickerEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type tickerFrame struct {
	Stream string      `json:"stream"`
	Data   tickerEvent `json:"data"`
}

// defaultPrices seeds the random walk for well-known pairs.
var defaultPrices = map[string]float64{
	"BTCUSDT":  43000,
	"ETHUSDT":  2300,
	"BNBUSDT":  310,
	"ADAUSDT":  0.52,
	"DOGEUSDT": 0.085,
	"SOLUSDT":  98,
	"XRPUSDT":  0.62,
}

const fallbackPrice = 10.0

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	ch      chan []byte
	symbols map[string]bool // uppercase
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
	prices  map[string]float64
}

func newHub() *hub {
	return &hub{
		clients: make(map[*websocket.Conn]*client),
		prices:  make(map[string]float64),
	}
}

// register adds conn with its subscription and seeds prices for symbols the
// generator has not seen yet.
func (h *hub) register(conn *websocket.Conn, symbols []string) chan []byte {
	c := &client{ch: make(chan []byte, 256), symbols: make(map[string]bool, len(symbols))}
	h.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = true
		if _, ok := h.prices[s]; !ok {
			h.prices[s] = startingPrice(s)
		}
	}
	h.clients[conn] = c
	h.mu.Unlock()
	return c.ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// step moves every known price one random-walk step and fans the frames out
// to subscribed clients.
func (h *hub) step(rng *rand.Rand, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for symbol, price := range h.prices {
		price = walkPrice(rng, price)
		h.prices[symbol] = price

		msg, err := encodeFrame(symbol, price, now)
		if err != nil {
			continue
		}
		for _, c := range h.clients {
			if !c.symbols[symbol] {
				continue
			}
			select {
			case c.ch <- msg:
			default: // slow client, drop tick
			}
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func streamHandler(h *hub, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbols := parseStreams(r.URL.Query().Get("streams"))
		if len(symbols) == 0 {
			http.Error(w, "streams parameter required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", slog.String("error", err.Error()))
			return
		}
		log.Info("client connected", slog.String("remote", r.RemoteAddr), slog.Any("symbols", symbols))

		ch := h.register(conn, symbols)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
		}()

		// Drain reads so control frames (close, ping) are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		// Write pump
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.1%).
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.00000001 {
		next = 0.00000001
	}
	return next
}

func runGenerator(h *hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for now := range ticker.C {
		h.step(rng, now)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log := logger.Init("tickserver", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 1000)
	log.Info("starting simulated ticker stream", slog.String("addr", addr), slog.Int("interval_ms", intervalMs))

	h := newHub()
	go runGenerator(h, time.Duration(intervalMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", streamHandler(h, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Info("listening", slog.String("url", "ws://localhost"+addr+"/stream?streams=btcusdt@ticker"))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseStreams turns "btcusdt@ticker/ethusdt@ticker" into uppercase symbols.
// Streams of any other type are ignored.
func parseStreams(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, "/") {
		sym, kind, ok := strings.Cut(strings.TrimSpace(part), "@")
		if !ok || kind != "ticker" || sym == "" {
			continue
		}
		sym = strings.ToUpper(sym)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func startingPrice(symbol string) float64 {
	if p, ok := defaultPrices[symbol]; ok {
		return p
	}
	return fallbackPrice
}

func encodeFrame(symbol string, price float64, now time.Time) ([]byte, error) {
	return json.Marshal(tickerFrame{
		Stream: strings.ToLower(symbol) + "@ticker",
		Data: tickerEvent{
			Event:     "24hrTicker",
			EventTime: now.UnixMilli(),
			Symbol:    symbol,
			Close:     strconv.FormatFloat(price, 'f', 8, 64),
		},
	})
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
