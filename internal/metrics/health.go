package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	StreamState     string    `json:"stream_state"`
	LastTickTime    time.Time `json:"last_tick_time"`
	StoreBackend    string    `json:"store_backend"`
	StoreOK         bool      `json:"store_ok"`

	// Liveness probe results
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status for the given store
// backend. The store starts healthy until a probe says otherwise.
func NewHealthStatus(backend string) *HealthStatus {
	return &HealthStatus{
		StoreBackend: backend,
		StoreOK:      true,
		StreamState:  "disconnected",
		StartedAt:    time.Now(),
	}
}

// SetStreamState records the stream state name and whether it is connected.
func (h *HealthStatus) SetStreamState(name string, connected bool) {
	h.mu.Lock()
	h.StreamState = name
	h.StreamConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.record(err, time.Since(start))
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.record(err, time.Since(start))
}

func (h *HealthStatus) record(err error, latency time.Duration) {
	if err != nil {
		slog.Warn("store probe failed",
			slog.String("component", "health"),
			slog.String("backend", h.backend()),
			slog.String("error", err.Error()),
		)
	}
	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

func (h *HealthStatus) backend() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.StoreBackend
}

// StartLivenessChecker runs periodic store checks until ctx is done. Either
// client may be nil; with both nil nothing is probed.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	if rdb == nil && sqlDB == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.StreamConnected || !h.StoreOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StreamConnected && !h.StoreOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	lastTick := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
		lastTick = h.LastTickTime.Format(time.RFC3339)
	}
	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		StreamState     string  `json:"stream_state"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		StoreBackend    string  `json:"store_backend"`
		StoreOK         bool    `json:"store_ok"`
		StoreLatencyMs  float64 `json:"store_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		StreamState:     h.StreamState,
		LastTickTime:    lastTick,
		TickAge:         tickAge,
		StoreBackend:    h.StoreBackend,
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		LastCheckAt:     lastCheck,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
