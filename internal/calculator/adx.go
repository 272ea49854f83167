package calculator

import (
	talib "github.com/markcheno/go-talib"

	"BreakoutSentinel/internal/model"
)

// ADX returns the average directional index series. The first 2*period-1
// values are zero.
func ADX(bars []model.OHLCV, period int) []float64 {
	highs, lows := extractHL(bars)
	return talib.Adx(highs, lows, extractCloses(bars), period)
}
