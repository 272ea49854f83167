package strategy

import (
	"BreakoutSentinel/internal/calculator"
	"BreakoutSentinel/internal/model"
)

// MTFAligned checks the higher timeframe trend: close above the fast EMA and
// the fast EMA above the slow one for longs, mirrored for shorts. A series
// too short to judge counts as aligned.
func MTFAligned(bars []model.OHLCV, d model.Direction, fast, slow int) bool {
	if len(bars) < slow {
		return true
	}
	last := len(bars) - 1
	price := bars[last].Close
	f := calculator.EMA(bars, fast)[last]
	s := calculator.EMA(bars, slow)[last]
	if d == model.Short {
		return price < f && f < s
	}
	return price > f && f > s
}
