// Package portfolio holds the tracked holdings and derives portfolio metrics.
//
// Store is the single owner of the portfolio State. Every mutation is written
// through to the configured model.StateStore before the call returns, so the
// persisted blob always reflects the last completed mutation.
package portfolio

import (
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
)

// Validation errors returned by AddHolding. No state changes when returned.
var (
	ErrEmptySymbol     = errors.New("please select a cryptocurrency")
	ErrInvalidQuantity = errors.New("please enter a valid quantity")
)

// Store tracks holdings and the session baseline value.
type Store struct {
	mu      sync.RWMutex
	state   model.State
	persist model.StateStore

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides holding ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates a Store seeded from persist.Load().
func NewStore(persist model.StateStore, opts ...Option) *Store {
	s := &Store{
		persist: persist,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Component(s.log, "portfolio")

	s.state = persist.Load()
	if s.state.Holdings == nil {
		s.state.Holdings = []model.Holding{}
	}
	s.log.Info("portfolio loaded",
		slog.Int("holdings", len(s.state.Holdings)),
		slog.Float64("baseline_value", s.state.BaselineValue))
	return s
}

// AddHolding adds quantity of symbol. An existing holding for the symbol has
// its quantity increased; otherwise a new holding with no price is created.
func (s *Store) AddHolding(symbol string, quantity float64) (model.Holding, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return model.Holding{}, ErrEmptySymbol
	}
	if !(quantity > 0) || math.IsInf(quantity, 1) {
		return model.Holding{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexBySymbol(symbol); i >= 0 {
		s.state.Holdings[i].Quantity += quantity
		s.save()
		return s.state.Holdings[i], nil
	}

	h := model.Holding{
		ID:          s.newID(),
		Symbol:      symbol,
		Quantity:    quantity,
		LastUpdated: s.now().UTC(),
	}
	s.state.Holdings = append(s.state.Holdings, h)
	s.save()
	return h, nil
}

// RemoveHolding deletes the holding with the given id. Unknown ids are ignored.
func (s *Store) RemoveHolding(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.state.Holdings[:0]
	for _, h := range s.state.Holdings {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	// Clear the tail so removed holdings are not retained by the backing array
	for i := len(kept); i < len(s.state.Holdings); i++ {
		s.state.Holdings[i] = model.Holding{}
	}
	s.state.Holdings = kept
	s.save()
}

// ApplyPriceUpdate records a trade price for symbol. symbol must already be in
// the stored uppercase form. Returns false, leaving the state untouched, when
// no holding matches or the price is not a finite number.
func (s *Store) ApplyPriceUpdate(symbol string, price float64) bool {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexBySymbol(symbol)
	if i < 0 {
		return false
	}

	h := &s.state.Holdings[i]
	if h.CurrentPrice != 0 {
		h.PriceChange24h = price - h.CurrentPrice
	}
	h.CurrentPrice = price
	h.LastUpdated = s.now().UTC()

	// Session baseline: captured once, at the first valuation
	if s.state.BaselineValue == 0 {
		s.state.BaselineValue = TotalValue(s.state.Holdings)
	}

	s.save()
	return true
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Holdings returns a copy of the holdings in insertion order.
func (s *Store) Holdings() []model.Holding {
	return s.Snapshot().Holdings
}

// Symbols returns the tracked symbols in insertion order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.state.Holdings))
	for i, h := range s.state.Holdings {
		out[i] = h.Symbol
	}
	return out
}

// Len returns the number of holdings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Holdings)
}

func (s *Store) indexBySymbol(symbol string) int {
	for i := range s.state.Holdings {
		if s.state.Holdings[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// save writes the state through. Failures are logged; the in-memory state
// stays authoritative for the session. Caller holds s.mu.
func (s *Store) save() {
	if err := s.persist.Save(s.state.Clone()); err != nil {
		s.log.Error("persist portfolio failed", slog.Any("error", err))
	}
}

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
