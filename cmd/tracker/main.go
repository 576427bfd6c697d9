// Command tracker runs the live portfolio tracker: it keeps the holdings,
// follows the ticker feed for their symbols and serves the derived metrics
// over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"portfolio-tracker/config"
	"portfolio-tracker/internal/api"
	"portfolio-tracker/internal/gateway"
	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/marketdata/stream"
	"portfolio-tracker/internal/metrics"
	"portfolio-tracker/internal/model"
	"portfolio-tracker/internal/portfolio"
	"portfolio-tracker/internal/store"
	redisstore "portfolio-tracker/internal/store/redis"
	sqlitestore "portfolio-tracker/internal/store/sqlite"
)

const livenessInterval = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("tracker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init("tracker", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", slog.String("store_backend", cfg.StoreBackend), slog.String("stream", cfg.StreamBaseURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(cfg.StoreBackend)

	// ---- Persistence ----
	blobs, err := openBlobStore(ctx, cfg, prom, health, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			log.Warn("store close failed", slog.String("error", err.Error()))
		}
	}()

	persister := store.NewPersister(blobs, log)
	persister.OnSave = func(d time.Duration) {
		prom.PersistDur.Observe(d.Seconds())
		health.SetStoreOK(true)
	}
	persister.OnSaveError = func(error) {
		prom.PersistErrors.Inc()
		health.SetStoreOK(false)
	}

	// ---- Portfolio ----
	holdings := portfolio.NewStore(persister, portfolio.WithLogger(log))

	// ---- Price stream ----
	mgr := stream.NewManager(stream.Config{
		BaseURL:        cfg.StreamBaseURL,
		ReconnectDelay: cfg.ReconnectDelay,
	}, &stream.GorillaDialer{}, holdings, stream.WithLogger(log))
	mgr.OnStateChange = func(_, to stream.State) {
		prom.StreamState.Set(float64(to))
		health.SetStreamState(to.String(), to == stream.StateConnected)
	}
	mgr.OnReconnect = func() { prom.StreamReconnects.Inc() }
	mgr.OnParseError = func() { prom.StreamParseErrs.Inc() }
	mgr.OnTick = func(tick model.Tick) {
		prom.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		health.SetLastTickTime(tick.ReceivedAt)
	}

	mgr.Start(func(symbol string, price float64) {
		if !holdings.ApplyPriceUpdate(symbol, price) {
			prom.UnmatchedTicks.Inc()
		}
	})
	defer mgr.Stop()

	// ---- Valuation gauges ----
	valuation, err := metrics.NewValuationJob(cfg.ValuationSchedule, holdings, prom, log)
	if err != nil {
		return err
	}
	valuation.Start()

	// ---- Live feed ----
	hub := gateway.NewHub(holdings, cfg.LiveInterval, log)
	hub.OnClients = func(n int) { prom.GatewayClients.Set(float64(n)) }
	hub.OnDrop = func() { prom.GatewayDrops.Inc() }

	// ---- HTTP servers ----
	apiSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewRouter(holdings, mgr, cfg.CORSOrigins, log, api.WithLiveFeed(hub)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("api server listening", slog.String("addr", cfg.APIAddr))
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(metricsSrv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		mgr.Stop()
		valuation.Stop(shutdownCtx)
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("api shutdown", slog.String("error", err.Error()))
		}
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// openBlobStore opens the configured backend, wires its metrics hooks and
// starts its liveness probe.
func openBlobStore(ctx context.Context, cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) (model.BlobStore, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		health.StartLivenessChecker(ctx, nil, s.DB(), livenessInterval)
		return s, nil

	case config.BackendRedis:
		s, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		s.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		s.OnFlush = func(n int) { prom.RedisFlushedWrites.Add(float64(n)) }
		s.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		health.StartLivenessChecker(ctx, s.Client(), nil, livenessInterval)
		return s, nil

	default:
		log.Warn("using in-memory store, holdings will not survive a restart")
		return store.NewMemoryBlobStore(), nil
	}
}
