package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"portfolio-tracker/internal/model"
)

// combined-stream envelope: {"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"64000.10",...}}
type tickerEnvelope struct {
	Stream string         `json:"stream"`
	Data   *tickerPayload `json:"data"`
}

type tickerPayload struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// ParseTicker decodes one inbound frame. ok is false, with a nil error, for
// well-formed frames that carry no data payload (e.g. subscription acks).
func ParseTicker(frame []byte, now time.Time) (tick model.Tick, ok bool, err error) {
	var env tickerEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return model.Tick{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Data == nil {
		return model.Tick{}, false, nil
	}
	if strings.TrimSpace(env.Data.Symbol) == "" {
		return model.Tick{}, false, errors.New("ticker payload missing symbol")
	}
	price, err := strconv.ParseFloat(env.Data.LastPrice, 64)
	if err != nil {
		return model.Tick{}, false, fmt.Errorf("parse price %q for %s: %w", env.Data.LastPrice, env.Data.Symbol, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return model.Tick{}, false, fmt.Errorf("invalid price %q for %s", env.Data.LastPrice, env.Data.Symbol)
	}
	// Holdings are stored uppercase
	symbol := strings.ToUpper(strings.TrimSpace(env.Data.Symbol))
	return model.Tick{Symbol: symbol, Price: price, ReceivedAt: now}, true, nil
}

// StreamURL builds the combined ticker stream URI for symbols, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@ticker/ethusdt@ticker
func StreamURL(baseURL string, symbols []string) string {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = url.QueryEscape(strings.ToLower(s)) + "@ticker"
	}
	return strings.TrimRight(baseURL, "/") + "/stream?streams=" + strings.Join(names, "/")
}
