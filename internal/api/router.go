// Package api exposes the portfolio over HTTP/JSON for the presentation layer.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
)

// Portfolio is the subset of portfolio.Store the handlers need.
type Portfolio interface {
	AddHolding(symbol string, quantity float64) (model.Holding, error)
	RemoveHolding(id string)
	Snapshot() model.State
}

// Subscriber is told about newly added symbols so the price feed can
// include them.
type Subscriber interface {
	AddSymbol(symbol string)
}

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	live http.Handler
}

// WithLiveFeed mounts a WebSocket handler at /api/v1/stream.
func WithLiveFeed(h http.Handler) Option {
	return func(o *routerOptions) { o.live = h }
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(p Portfolio, sub Subscriber, allowedOrigins []string, log *slog.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler{portfolio: p, sub: sub, log: logger.Component(log, "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(newCORS(allowedOrigins).Handler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/portfolio", h.getPortfolio)
		r.Get("/symbols", h.listSymbols)
		r.Post("/holdings", h.addHolding)
		r.Delete("/holdings/{id}", h.removeHolding)
		if o.live != nil {
			r.Handle("/stream", o.live)
		}
	})

	return r
}

func newCORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
