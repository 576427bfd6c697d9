package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
	"portfolio-tracker/internal/portfolio"
)

type handler struct {
	portfolio Portfolio
	sub       Subscriber
	log       *slog.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PortfolioResponse is the full state plus its derived metrics.
type PortfolioResponse struct {
	Holdings      []model.Holding   `json:"holdings"`
	BaselineValue float64           `json:"baselineValue"`
	Summary       portfolio.Summary `json:"summary"`
}

// AddHoldingRequest is the POST /holdings body.
type AddHoldingRequest struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getPortfolio(w http.ResponseWriter, r *http.Request) {
	state := h.portfolio.Snapshot()
	holdings := state.Holdings
	if holdings == nil {
		holdings = []model.Holding{}
	}
	h.respondJSON(w, r, http.StatusOK, PortfolioResponse{
		Holdings:      holdings,
		BaselineValue: state.BaselineValue,
		Summary:       portfolio.Summarize(state),
	})
}

func (h *handler) listSymbols(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, portfolio.SearchAssets(r.URL.Query().Get("q")))
}

func (h *handler) addHolding(w http.ResponseWriter, r *http.Request) {
	var req AddHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	holding, err := h.portfolio.AddHolding(req.Symbol, req.Quantity)
	switch {
	case errors.Is(err, portfolio.ErrEmptySymbol), errors.Is(err, portfolio.ErrInvalidQuantity):
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("add holding failed", append(logger.Attrs(r.Context()), slog.String("error", err.Error()))...)
		h.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if h.sub != nil {
		h.sub.AddSymbol(strings.ToLower(holding.Symbol))
	}
	h.respondJSON(w, r, http.StatusCreated, holding)
}

func (h *handler) removeHolding(w http.ResponseWriter, r *http.Request) {
	h.portfolio.RemoveHolding(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("encode response failed", append(logger.Attrs(r.Context()), slog.String("error", err.Error()))...)
	}
}

func (h *handler) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.respondJSON(w, r, status, ErrorResponse{Error: msg})
}
