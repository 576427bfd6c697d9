// Package stream maintains the live ticker subscription for the tracked symbols.
//
// A Manager owns at most one feed connection at a time. The subscription set
// is fixed when a connection is opened: it is read from the SymbolSource and
// encoded into the stream URI. Tracking a new symbol therefore restarts the
// whole connection (AddSymbol). Unclean closes are retried after a fixed
// delay; Stop is the only way to reach a terminal disconnected state.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
)

const (
	// DefaultBaseURL is the public combined-stream endpoint.
	DefaultBaseURL = "wss://stream.binance.com:9443"

	// DefaultReconnectDelay is the fixed wait before reopening after an unclean close.
	DefaultReconnectDelay = 5 * time.Second
)

// DefaultSymbols are subscribed when no holdings are tracked.
var DefaultSymbols = []string{"btcusdt", "ethusdt", "bnbusdt", "adausdt", "dogeusdt"}

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// PriceFunc receives every parsed tick as (symbol, price). The symbol is
// uppercased to match stored holdings.
type PriceFunc func(symbol string, price float64)

// SymbolSource supplies the symbols to subscribe at connect time.
type SymbolSource interface {
	Symbols() []string
}

// Timer is the subset of *time.Timer the Manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Config configures a Manager.
type Config struct {
	BaseURL        string        // defaults to DefaultBaseURL
	ReconnectDelay time.Duration // defaults to DefaultReconnectDelay
	DefaultSymbols []string      // defaults to DefaultSymbols
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if len(c.DefaultSymbols) == 0 {
		c.DefaultSymbols = DefaultSymbols
	}
}

// Manager owns the live feed connection.
type Manager struct {
	cfg       Config
	dialer    Dialer
	symbols   SymbolSource
	afterFunc AfterFunc
	now       func() time.Time
	log       *slog.Logger

	mu         sync.Mutex
	state      State
	onPrice    PriceFunc
	active     bool // a session exists: set by Start, cleared by Stop
	gen        uint64
	conn       Conn
	cancelDial context.CancelFunc
	timer      Timer
	subscribed []string

	// Optional hooks (metrics). OnStateChange runs with the Manager locked
	// and must not call back into it.
	OnStateChange func(from, to State)
	OnReconnect   func()
	OnTick        func(tick model.Tick)
	OnParseError  func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithAfterFunc replaces the reconnect timer implementation.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates an idle Manager.
func NewManager(cfg Config, dialer Dialer, symbols SymbolSource, opts ...Option) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		symbols: symbols,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.Component(m.log, "stream")
	return m
}

// Start (re)opens the feed for the current symbol set and delivers ticks to
// onPrice. Any existing connection and pending reconnect are discarded. The
// dial happens in the background; Start does not block.
func (m *Manager) Start(onPrice PriceFunc) {
	symbols := m.subscriptionSet()
	url := StreamURL(m.cfg.BaseURL, symbols)

	m.mu.Lock()
	m.onPrice = onPrice
	m.active = true
	m.stopTimerLocked()
	old := m.detachConnLocked()

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.subscribed = symbols
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.closeConn(old)

	m.log.Info("opening ticker stream", slog.Int("symbols", len(symbols)), slog.String("url", url))
	go m.run(ctx, gen, url)
}

// Stop cancels any pending reconnect, closes the connection and forgets the
// callback. It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.active && m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateClosing)
	m.stopTimerLocked()
	old := m.detachConnLocked()
	m.gen++
	m.onPrice = nil
	m.active = false
	m.subscribed = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.closeConn(old)
	m.log.Info("ticker stream stopped")
}

// AddSymbol makes a newly tracked symbol part of the subscription by
// restarting the stream. The new subscription set is read from the
// SymbolSource, so the symbol must already be stored there. Without an
// active stream this is a no-op.
func (m *Manager) AddSymbol(symbol string) {
	if strings.TrimSpace(symbol) == "" {
		return
	}

	m.mu.Lock()
	cb := m.onPrice
	active := m.active
	m.mu.Unlock()

	if !active || cb == nil {
		return
	}
	m.log.Info("adding symbol, restarting stream", slog.String("symbol", strings.ToUpper(symbol)))
	m.Start(cb)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscriptions returns the symbols of the current session.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subscribed))
	copy(out, m.subscribed)
	return out
}

func (m *Manager) subscriptionSet() []string {
	var src []string
	if m.symbols != nil {
		src = m.symbols.Symbols()
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, m.cfg.DefaultSymbols...)
	}
	return out
}

// run dials and then reads until the connection ends.
func (m *Manager) run(ctx context.Context, gen uint64, url string) {
	conn, err := m.dialer.Dial(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return // superseded or stopped while dialing
		}
		m.log.Error("ticker stream dial failed", slog.Any("error", err))
		m.handleClose(gen, false, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.stopTimerLocked()
	m.setStateLocked(StateConnected)
	m.mu.Unlock()
	m.log.Info("ticker stream connected")

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, errors.Is(err, ErrCleanClose), err)
			return
		}
		m.handleFrame(gen, frame)
	}
}

func (m *Manager) handleFrame(gen uint64, frame []byte) {
	tick, ok, err := ParseTicker(frame, m.now())
	if err != nil {
		m.log.Warn("dropping malformed frame", slog.Any("error", err))
		if m.OnParseError != nil {
			m.OnParseError()
		}
		return
	}
	if !ok {
		return
	}

	m.mu.Lock()
	cb := m.onPrice
	current := gen == m.gen
	m.mu.Unlock()
	if !current || cb == nil {
		return
	}

	if m.OnTick != nil {
		m.OnTick(tick)
	}
	cb(tick.Symbol, tick.Price)
}

// handleClose applies the reconnect policy for the connection of generation
// gen. Closes of superseded connections were initiated locally and are clean.
func (m *Manager) handleClose(gen uint64, clean bool, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.cancelDial = nil

	cb := m.onPrice
	if clean || cb == nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.log.Info("ticker stream closed", slog.Bool("clean", clean), slog.Any("cause", cause))
		return
	}

	m.setStateLocked(StateReconnecting)
	m.timer = m.afterFunc(m.cfg.ReconnectDelay, func() { m.reconnect(gen, cb) })
	m.mu.Unlock()

	m.log.Warn("ticker stream closed uncleanly, reconnecting",
		slog.Duration("delay", m.cfg.ReconnectDelay), slog.Any("cause", cause))
	if m.OnReconnect != nil {
		m.OnReconnect()
	}
}

func (m *Manager) reconnect(gen uint64, cb PriceFunc) {
	m.mu.Lock()
	stale := gen != m.gen || m.state != StateReconnecting
	if !stale {
		m.timer = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}
	m.Start(cb)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// detachConnLocked cancels a pending dial and hands back the live
// connection, if any, for closing once the lock is released.
func (m *Manager) detachConnLocked() Conn {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	c := m.conn
	m.conn = nil
	return c
}

// closeConn runs the close handshake. Must be called without m.mu held.
func (m *Manager) closeConn(c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.log.Debug("close connection", slog.Any("error", err))
	}
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.OnStateChange != nil {
		m.OnStateChange(from, to)
	}
}
