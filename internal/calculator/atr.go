package calculator

import (
	talib "github.com/markcheno/go-talib"

	"BreakoutSentinel/internal/model"
)

// ATR returns the Wilder average true range series. Values before index
// period are zero.
func ATR(bars []model.OHLCV, period int) []float64 {
	highs, lows := extractHL(bars)
	return talib.Atr(highs, lows, extractCloses(bars), period)
}

// ATRRatio compares the mean of the last `short` ATR values with the mean of
// the `long` values before them. It returns 1 when either window has no data.
func ATRRatio(atr []float64, short, long int) float64 {
	n := len(atr)
	recent := mean(atr, n-short, n)
	base := mean(atr, n-short-long, n-short)
	if recent == 0 || base == 0 {
		return 1
	}
	return recent / base
}
