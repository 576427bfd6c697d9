package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/model"
)

type staticState model.State

func (s staticState) Snapshot() model.State { return model.State(s).Clone() }

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TicksTotal.WithLabelValues("BTCUSDT").Inc()
	m.PersistErrors.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistErrors))

	// A second registry must not collide with the first
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestValuationJob_Run(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	state := staticState{
		BaselineValue: 100,
		Holdings: []model.Holding{
			{ID: "1", Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 90},
			{ID: "2", Symbol: "ETHUSDT", Quantity: 2, CurrentPrice: 30},
		},
	}

	job, err := NewValuationJob("@every 1h", state, m, nil)
	require.NoError(t, err)
	job.Run()

	assert.Equal(t, 150.0, testutil.ToFloat64(m.PortfolioValue))
	assert.InDelta(t, 50.0, testutil.ToFloat64(m.PortfolioChangePct), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HoldingsCount))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.HoldingValue.WithLabelValues("ETHUSDT")))
}

func TestValuationJob_DropsRemovedHoldings(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.HoldingValue.WithLabelValues("DOGEUSDT").Set(5)

	job, err := NewValuationJob("@every 1h", staticState{}, m, nil)
	require.NoError(t, err)
	job.Run()

	assert.Equal(t, 0, testutil.CollectAndCount(m.HoldingValue))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PortfolioValue))
}

func TestNewValuationJob_BadSchedule(t *testing.T) {
	_, err := NewValuationJob("every now and then", staticState{}, NewMetrics(prometheus.NewRegistry()), nil)
	assert.Error(t, err)
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth_Statuses(t *testing.T) {
	h := NewHealthStatus("memory")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeHealth(t, rec)["status"])

	h.SetStreamState("connected", true)
	h.SetLastTickTime(time.Now())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeHealth(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "memory", body["store_backend"])
	assert.NotEmpty(t, body["tick_age"])

	h.SetStreamState("reconnecting", false)
	h.SetStoreOK(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "unhealthy", decodeHealth(t, rec)["status"])
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.StreamReconnects.Inc()

	srv := NewServer(":0", NewHealthStatus("sqlite"), reg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tracker_stream_reconnects_total 1")

	resp2, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "application/json", resp2.Header.Get("Content-Type"))
}

func TestHealth_CheckSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	h := NewHealthStatus("sqlite")
	h.CheckSQLite(context.Background(), db)
	assert.True(t, h.StoreOK)
	assert.False(t, h.LastCheckAt.IsZero())

	db.Close()
	h.CheckSQLite(context.Background(), db)
	assert.False(t, h.StoreOK)
}
