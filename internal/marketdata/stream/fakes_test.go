package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errNetwork = errors.New("connection reset by peer")

// fakeConn is a scripted Conn. Frames and errors are pushed by the test.
type fakeConn struct {
	url    string
	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	// closeGate, when set, holds Close until it is closed
	closeGate chan struct{}
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:    url,
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns and records dialed URLs.
type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	failErr error
	dialed  chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	err := d.failErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := newFakeConn(url)
	d.dialed <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// fakeScheduler captures reconnect timers instead of sleeping.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the timer callback unless it was stopped.
func (t *fakeTimer) fire() {
	if t.isStopped() {
		return
	}
	t.fn()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

// symbolList is a mutable SymbolSource.
type symbolList struct {
	mu      sync.Mutex
	symbols []string
}

func (l *symbolList) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.symbols...)
}

func (l *symbolList) add(s string) {
	l.mu.Lock()
	l.symbols = append(l.symbols, s)
	l.mu.Unlock()
}

// priceRecorder collects callback invocations.
type priceRecorder struct {
	ch chan recordedPrice
}

type recordedPrice struct {
	symbol string
	price  float64
}

func newPriceRecorder() *priceRecorder {
	return &priceRecorder{ch: make(chan recordedPrice, 64)}
}

func (r *priceRecorder) fn(symbol string, price float64) {
	r.ch <- recordedPrice{symbol, price}
}

func (r *priceRecorder) next(t *testing.T) recordedPrice {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price")
		return recordedPrice{}
	}
}
