package model

import "time"

// Holding is one tracked symbol with its quantity and latest price data.
// Prices are quoted in the pair's quote currency (USDT for the defaults).
type Holding struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"` // uppercase, e.g. BTCUSDT
	Quantity       float64   `json:"quantity"`
	CurrentPrice   float64   `json:"currentPrice"`   // 0 until the first tick
	PriceChange24h float64   `json:"priceChange24h"` // absolute delta vs previous tick
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Value returns quantity × current price.
func (h *Holding) Value() float64 {
	return h.Quantity * h.CurrentPrice
}

// State is the persisted portfolio: holdings in insertion order plus the
// session baseline captured at the first price observation.
type State struct {
	Holdings      []Holding `json:"holdings"`
	BaselineValue float64   `json:"baselineValue"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{BaselineValue: s.BaselineValue, Holdings: make([]Holding, len(s.Holdings))}
	copy(out.Holdings, s.Holdings)
	return out
}
