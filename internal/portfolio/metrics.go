package portfolio

import (
	"strings"
	"unicode/utf16"

	"portfolio-tracker/internal/model"
)

// quoteSuffix is stripped from symbols to build display labels.
const quoteSuffix = "USDT"

// Palette is the fixed set of allocation colours.
var Palette = []string{
	"#3b82f6", // blue
	"#10b981", // green
	"#8b5cf6", // purple
	"#f59e0b", // amber
	"#ef4444", // red
	"#ec4899", // pink
	"#06b6d4", // cyan
	"#f97316", // orange
}

// Performer is a holding together with its derived percent change.
type Performer struct {
	model.Holding
	ChangePercent float64 `json:"changePercent"`
}

// Allocation is one slice of the allocation breakdown.
type Allocation struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color"`
}

// Summary bundles every derived metric for presentation.
type Summary struct {
	TotalValue       float64      `json:"totalValue"`
	PercentageChange float64      `json:"percentageChange"`
	TotalAssets      int          `json:"totalAssets"`
	BestPerformer    *Performer   `json:"bestPerformer"`
	Allocation       []Allocation `json:"allocation"`
}

// TotalValue sums quantity × current price over holdings.
func TotalValue(holdings []model.Holding) float64 {
	var total float64
	for i := range holdings {
		total += holdings[i].Value()
	}
	return total
}

// PercentageChange is the change of the current total against the session
// baseline, in percent. Zero while no baseline has been captured.
func PercentageChange(state model.State) float64 {
	if state.BaselineValue == 0 {
		return 0
	}
	return (TotalValue(state.Holdings) - state.BaselineValue) / state.BaselineValue * 100
}

// ChangePercent derives a holding's percent change from its last delta,
// reconstructing the previous price as price − delta.
func ChangePercent(h model.Holding) float64 {
	if h.PriceChange24h == 0 || h.CurrentPrice == h.PriceChange24h {
		return 0
	}
	return h.PriceChange24h / (h.CurrentPrice - h.PriceChange24h) * 100
}

// BestPerformer returns the holding with the highest ChangePercent. Ties go to
// the earliest holding. ok is false when holdings is empty.
func BestPerformer(holdings []model.Holding) (best Performer, ok bool) {
	if len(holdings) == 0 {
		return Performer{}, false
	}
	best = Performer{Holding: holdings[0], ChangePercent: ChangePercent(holdings[0])}
	for _, h := range holdings[1:] {
		if pct := ChangePercent(h); pct > best.ChangePercent {
			best = Performer{Holding: h, ChangePercent: pct}
		}
	}
	return best, true
}

// AllocationBreakdown splits the total value across holdings. It returns an
// empty slice when the total value is zero.
func AllocationBreakdown(holdings []model.Holding) []Allocation {
	total := TotalValue(holdings)
	if total == 0 {
		return []Allocation{}
	}

	out := make([]Allocation, 0, len(holdings))
	for _, h := range holdings {
		value := h.Value()
		out = append(out, Allocation{
			Label:      Label(h.Symbol),
			Value:      value,
			Percentage: value / total * 100,
			Color:      ColorFor(h.Symbol),
		})
	}
	return out
}

// Label strips the quote currency from a symbol, e.g. BTCUSDT → BTC.
func Label(symbol string) string {
	return strings.Replace(symbol, quoteSuffix, "", 1)
}

// ColorFor maps a symbol to a palette colour. The hash folds UTF-16 code
// units as hash = c + (int32(hash)<<5 − hash), so results match the
// colours the web dashboard has always shown.
func ColorFor(symbol string) string {
	var hash int64
	for _, c := range utf16.Encode([]rune(symbol)) {
		hash = int64(c) + (int64(int32(hash)<<5) - hash)
	}
	if hash < 0 {
		hash = -hash
	}
	return Palette[hash%int64(len(Palette))]
}

// Summarize computes every derived metric over state.
func Summarize(state model.State) Summary {
	sum := Summary{
		TotalValue:       TotalValue(state.Holdings),
		PercentageChange: PercentageChange(state),
		TotalAssets:      len(state.Holdings),
		Allocation:       AllocationBreakdown(state.Holdings),
	}
	if best, ok := BestPerformer(state.Holdings); ok {
		sum.BestPerformer = &best
	}
	return sum
}
