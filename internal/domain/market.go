package domain

import "github.com/shopspring/decimal"

// MarketConditions is a periodic snapshot used to gate Tier 2 retries.
// Favorable requires both the volatility index and the average sampled
// spread to be within bounds; VIXLow only changes the reported reason,
// not the Favorable verdict.
type MarketConditions struct {
	VIX        float64
	SPY        decimal.Decimal
	AvgSpread  decimal.Decimal
	SampleSize int
	Favorable  bool
	Reason     string
}

// Classify applies the vix/spread thresholds and sets Favorable and Reason.
func (m *MarketConditions) Classify(vixHigh, vixLow float64, maxSpread decimal.Decimal) {
	switch {
	case m.VIX > vixHigh:
		m.Favorable = false
		m.Reason = "vix above high threshold"
	case m.AvgSpread.GreaterThan(maxSpread):
		m.Favorable = false
		m.Reason = "average spread too wide"
	case m.VIX <= vixLow:
		m.Favorable = true
		m.Reason = "vix low, spreads acceptable"
	default:
		m.Favorable = true
		m.Reason = "conditions acceptable"
	}
}
