package stream

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/model"
)

const testBase = "wss://feed.test:9443"

func newTestManager(symbols SymbolSource) (*Manager, *fakeDialer, *fakeScheduler) {
	d := newFakeDialer()
	sched := &fakeScheduler{}
	m := NewManager(Config{BaseURL: testBase}, d, symbols, WithAfterFunc(sched.AfterFunc))
	return m, d, sched
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "expected state %v, got %v", want, m.State())
}

func tickerFrame(symbol, price string) []byte {
	return []byte(fmt.Sprintf(`{"stream":"x@ticker","data":{"e":"24hrTicker","s":%q,"c":%q}}`, symbol, price))
}

func TestManager_SubscribesToTrackedSymbols(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT", "ETHUSDT"}})
	defer m.Stop()

	m.Start(func(string, float64) {})
	c := d.waitConn(t)

	assert.Equal(t, testBase+"/stream?streams=btcusdt@ticker/ethusdt@ticker", c.url)
	assert.Equal(t, []string{"btcusdt", "ethusdt"}, m.Subscriptions())
	waitState(t, m, StateConnected)
}

func TestManager_EmptyPortfolioUsesDefaults(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{})
	defer m.Stop()

	m.Start(func(string, float64) {})
	c := d.waitConn(t)

	assert.Equal(t,
		testBase+"/stream?streams=btcusdt@ticker/ethusdt@ticker/bnbusdt@ticker/adausdt@ticker/dogeusdt@ticker",
		c.url)
}

func TestManager_DeliversTicks(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	rec := newPriceRecorder()

	m.Start(rec.fn)
	c := d.waitConn(t)
	c.frames <- tickerFrame("BTCUSDT", "64000.50")

	got := rec.next(t)
	assert.Equal(t, "BTCUSDT", got.symbol)
	assert.Equal(t, 64000.5, got.price)
}

func TestManager_DeliversStoredSymbolCasing(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	rec := newPriceRecorder()
	var seen atomic.Value
	m.OnTick = func(tick model.Tick) { seen.Store(tick) }

	m.Start(rec.fn)
	c := d.waitConn(t)
	c.frames <- tickerFrame("btcusdt", "64000.50")

	got := rec.next(t)
	assert.Equal(t, "BTCUSDT", got.symbol)
	tick, _ := seen.Load().(model.Tick)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.False(t, tick.ReceivedAt.IsZero())
}

func TestManager_NonFinitePricesAreDropped(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	rec := newPriceRecorder()
	var parseErrors atomic.Int32
	m.OnParseError = func() { parseErrors.Add(1) }

	m.Start(rec.fn)
	c := d.waitConn(t)
	c.frames <- tickerFrame("BTCUSDT", "NaN")
	c.frames <- tickerFrame("BTCUSDT", "+Inf")
	c.frames <- tickerFrame("BTCUSDT", "7")

	assert.Equal(t, 7.0, rec.next(t).price)
	assert.Equal(t, int32(2), parseErrors.Load())
}

func TestManager_MalformedFramesAreDropped(t *testing.T) {
	m, d, sched := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	rec := newPriceRecorder()
	var parseErrors atomic.Int32
	m.OnParseError = func() { parseErrors.Add(1) }

	m.Start(rec.fn)
	c := d.waitConn(t)
	c.frames <- []byte(`{garbage`)
	c.frames <- []byte(`{"result":null,"id":1}`)
	c.frames <- tickerFrame("BTCUSDT", "not-a-number")
	c.frames <- tickerFrame("BTCUSDT", "101.25")

	got := rec.next(t)
	assert.Equal(t, 101.25, got.price)
	assert.Equal(t, int32(2), parseErrors.Load())
	assert.Equal(t, StateConnected, m.State())
	assert.Zero(t, sched.count())
	assert.False(t, c.isClosed())
}

func TestManager_UncleanCloseSchedulesOneReconnect(t *testing.T) {
	syms := &symbolList{symbols: []string{"BTCUSDT"}}
	m, d, sched := newTestManager(syms)
	defer m.Stop()
	rec := newPriceRecorder()
	var reconnects atomic.Int32
	m.OnReconnect = func() { reconnects.Add(1) }

	m.Start(rec.fn)
	c := d.waitConn(t)
	waitState(t, m, StateConnected)

	c.errs <- errNetwork
	waitState(t, m, StateReconnecting)

	require.Equal(t, 1, sched.count())
	assert.Equal(t, DefaultReconnectDelay, sched.last().delay)
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "no dial before the delay elapses")

	// Symbols picked up on reconnect come from the source at that moment
	syms.add("ETHUSDT")
	sched.last().fire()

	c2 := d.waitConn(t)
	assert.Contains(t, c2.url, "ethusdt@ticker")
	waitState(t, m, StateConnected)

	c2.frames <- tickerFrame("ETHUSDT", "3000")
	assert.Equal(t, "ETHUSDT", rec.next(t).symbol, "same callback after reconnect")
}

func TestManager_DialFailureReconnects(t *testing.T) {
	m, d, sched := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	d.failErr = errNetwork

	m.Start(func(string, float64) {})
	waitState(t, m, StateReconnecting)
	require.Equal(t, 1, sched.count())

	d.mu.Lock()
	d.failErr = nil
	d.mu.Unlock()
	sched.last().fire()

	d.waitConn(t)
	waitState(t, m, StateConnected)
}

func TestManager_CleanPeerCloseDoesNotReconnect(t *testing.T) {
	m, d, sched := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()

	m.Start(func(string, float64) {})
	c := d.waitConn(t)
	waitState(t, m, StateConnected)

	c.errs <- fmt.Errorf("%w: websocket: close 1000 (normal)", ErrCleanClose)
	waitState(t, m, StateDisconnected)
	assert.Zero(t, sched.count())
}

func TestManager_StopIsTerminal(t *testing.T) {
	m, d, sched := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})

	m.Start(func(string, float64) {})
	c := d.waitConn(t)
	waitState(t, m, StateConnected)

	m.Stop()
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, c.isClosed())

	// The read loop sees the local close; it must not reconnect
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sched.count())
	assert.Equal(t, 1, d.dialCount())

	m.Stop()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_StopBeforeStart(t *testing.T) {
	m, d, _ := newTestManager(nil)
	m.Stop()
	m.Stop()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, d.dialCount())
}

func TestManager_StopCancelsPendingReconnect(t *testing.T) {
	m, d, sched := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})

	m.Start(func(string, float64) {})
	c := d.waitConn(t)
	waitState(t, m, StateConnected)
	c.errs <- errNetwork
	waitState(t, m, StateReconnecting)

	m.Stop()
	timer := sched.last()
	assert.True(t, timer.isStopped())

	// Even a timer that already fired must not revive the stream
	timer.fn()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_AddSymbolWithoutConnectionIsNoop(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})

	m.AddSymbol("ethusdt")
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, d.dialCount())
	assert.Equal(t, StateDisconnected, m.State())

	// Also after Stop
	m.Start(func(string, float64) {})
	d.waitConn(t)
	m.Stop()
	m.AddSymbol("ethusdt")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_AddSymbolRestartsStream(t *testing.T) {
	syms := &symbolList{symbols: []string{"BTCUSDT"}}
	m, d, sched := newTestManager(syms)
	defer m.Stop()
	rec := newPriceRecorder()

	m.Start(rec.fn)
	c1 := d.waitConn(t)
	waitState(t, m, StateConnected)

	syms.add("SOLUSDT")
	m.AddSymbol("solusdt")

	c2 := d.waitConn(t)
	assert.True(t, c1.isClosed(), "previous connection is closed before reopening")
	assert.Equal(t, testBase+"/stream?streams=btcusdt@ticker/solusdt@ticker", c2.url)
	waitState(t, m, StateConnected)

	// Closing the old connection is local and clean
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sched.count())

	c2.frames <- tickerFrame("SOLUSDT", "150")
	assert.Equal(t, "SOLUSDT", rec.next(t).symbol)
}

func TestManager_AddSymbolNotYetStoredKeepsOldSet(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()

	m.Start(func(string, float64) {})
	d.waitConn(t)

	m.AddSymbol("xrpusdt")
	c2 := d.waitConn(t)
	assert.NotContains(t, c2.url, "xrpusdt")
}

func TestManager_BlankAddSymbolIgnored(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()

	m.Start(func(string, float64) {})
	d.waitConn(t)
	m.AddSymbol("   ")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_StaleConnectionTicksIgnored(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	defer m.Stop()
	rec := newPriceRecorder()

	m.Start(rec.fn)
	c1 := d.waitConn(t)
	waitState(t, m, StateConnected)

	m.Start(rec.fn)
	c2 := d.waitConn(t)
	waitState(t, m, StateConnected)

	c2.frames <- tickerFrame("BTCUSDT", "2")
	assert.Equal(t, 2.0, rec.next(t).price)
	assert.True(t, c1.isClosed())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestManager_SlowCloseDoesNotBlockState(t *testing.T) {
	m, d, _ := newTestManager(&symbolList{symbols: []string{"BTCUSDT"}})
	rec := newPriceRecorder()

	m.Start(rec.fn)
	c := d.waitConn(t)
	waitState(t, m, StateConnected)

	release := make(chan struct{})
	c.closeGate = release

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	// State is readable while the close handshake is still in flight
	waitState(t, m, StateDisconnected)
	select {
	case <-stopped:
		t.Fatal("Stop returned before the connection finished closing")
	default:
	}

	close(release)
	<-stopped
	assert.True(t, c.isClosed())
}
