package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the portfolio tracker.
type Metrics struct {
	// Price stream
	TicksTotal       *prometheus.CounterVec // labels: symbol
	UnmatchedTicks   prometheus.Counter
	StreamReconnects prometheus.Counter
	StreamParseErrs  prometheus.Counter
	StreamState      prometheus.Gauge // stream.State as a number

	// Persistence
	PersistDur    prometheus.Histogram
	PersistErrors prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter

	// Live feed
	GatewayClients prometheus.Gauge
	GatewayDrops   prometheus.Counter

	// Valuation, refreshed by the valuation job
	PortfolioValue     prometheus.Gauge
	PortfolioChangePct prometheus.Gauge
	HoldingsCount      prometheus.Gauge
	HoldingValue       *prometheus.GaugeVec // labels: symbol
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_ticks_total",
			Help: "Ticker frames delivered to the portfolio, by symbol",
		}, []string{"symbol"}),
		UnmatchedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_unmatched_ticks_total",
			Help: "Ticks for symbols that are not held",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stream_reconnects_total",
			Help: "Reconnects scheduled after an unclean close",
		}),
		StreamParseErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stream_parse_errors_total",
			Help: "Malformed ticker frames dropped",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stream_state",
			Help: "Stream state (0=disconnected, 1=connecting, 2=connected, 3=closing, 4=reconnecting)",
		}),

		PersistDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_persist_duration_seconds",
			Help:    "Portfolio state write latency",
			Buckets: prometheus.DefBuckets,
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_persist_errors_total",
			Help: "Portfolio state writes that failed",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker is open",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_redis_flushed_writes_total",
			Help: "Buffered writes replayed to Redis after recovery",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_gateway_clients",
			Help: "Connected live-feed WebSocket clients",
		}),
		GatewayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_gateway_drops_total",
			Help: "Live-feed updates dropped for slow clients",
		}),

		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_portfolio_value",
			Help: "Total portfolio value in quote currency",
		}),
		PortfolioChangePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_portfolio_change_percent",
			Help: "Percent change of total value against the session baseline",
		}),
		HoldingsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_holdings",
			Help: "Number of holdings in the portfolio",
		}),
		HoldingValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_holding_value",
			Help: "Value of each holding in quote currency",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.UnmatchedTicks,
		m.StreamReconnects,
		m.StreamParseErrs,
		m.StreamState,
		m.PersistDur,
		m.PersistErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
		m.GatewayClients,
		m.GatewayDrops,
		m.PortfolioValue,
		m.PortfolioChangePct,
		m.HoldingsCount,
		m.HoldingValue,
	)

	return m
}
