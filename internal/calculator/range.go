package calculator

import (
	"errors"
	"math"

	"BreakoutSentinel/internal/model"
)

// SwingExtremes returns the highest high and lowest low of the `window` bars
// that precede the newest bar.
func SwingExtremes(bars []model.OHLCV, window int) (high, low float64, err error) {
	n := len(bars)
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}
	if n < window+1 {
		return 0, 0, ErrInsufficientData
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := n - 1 - window; i < n-1; i++ {
		if bars[i].High > high {
			high = bars[i].High
		}
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	return high, low, nil
}
