package portfolio

import "strings"

// Asset is an entry of the symbol catalogue offered when adding a holding.
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// PopularAssets lists commonly tracked USDT pairs. It is a convenience list,
// not a registry: AddHolding accepts any symbol.
var PopularAssets = []Asset{
	{"BTCUSDT", "Bitcoin"},
	{"ETHUSDT", "Ethereum"},
	{"BNBUSDT", "Binance Coin"},
	{"ADAUSDT", "Cardano"},
	{"SOLUSDT", "Solana"},
	{"DOGEUSDT", "Dogecoin"},
	{"XRPUSDT", "Ripple"},
	{"DOTUSDT", "Polkadot"},
	{"AVAXUSDT", "Avalanche"},
	{"MATICUSDT", "Polygon"},
	{"LINKUSDT", "Chainlink"},
	{"UNIUSDT", "Uniswap"},
	{"SHIBUSDT", "Shiba Inu"},
	{"LTCUSDT", "Litecoin"},
	{"ATOMUSDT", "Cosmos"},
	{"NEARUSDT", "NEAR Protocol"},
	{"ALGOUSDT", "Algorand"},
	{"ICPUSDT", "Internet Computer"},
	{"FILUSDT", "Filecoin"},
	{"VETUSDT", "VeChain"},
}

// SearchAssets returns catalogue entries whose symbol or name contains term,
// case-insensitively. An empty term returns the whole catalogue.
func SearchAssets(term string) []Asset {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Asset, 0, len(PopularAssets))
	for _, a := range PopularAssets {
		if term == "" ||
			strings.Contains(strings.ToLower(a.Symbol), term) ||
			strings.Contains(strings.ToLower(a.Name), term) {
			out = append(out, a)
		}
	}
	return out
}
