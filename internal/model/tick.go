package model

import "time"

// Tick is a last-trade price observation for one symbol from the ticker feed.
type Tick struct {
	Symbol     string    `json:"symbol"` // as sent by the feed, e.g. BTCUSDT
	Price      float64   `json:"price"`
	ReceivedAt time.Time `json:"received_at"`
}
