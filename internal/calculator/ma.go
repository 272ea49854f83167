package calculator

import (
	talib "github.com/markcheno/go-talib"

	"BreakoutSentinel/internal/model"
)

// EMA returns the exponential moving average series of closes, seeded by an
// SMA. The first period-1 values are zero.
func EMA(bars []model.OHLCV, period int) []float64 {
	return talib.Ema(extractCloses(bars), period)
}

// VolumeMA returns the simple moving average series of volumes.
func VolumeMA(bars []model.OHLCV, period int) []float64 {
	return talib.Sma(extractVolumes(bars), period)
}

// mean averages the positive values of xs[from:to]; warm-up zeros are skipped.
func mean(xs []float64, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(xs) {
		to = len(xs)
	}
	sum, n := 0.0, 0
	for i := from; i < to; i++ {
		if xs[i] > 0 {
			sum += xs[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func extractCloses(bars []model.OHLCV) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

func extractVolumes(bars []model.OHLCV) []float64 {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	return vols
}

func extractHL(bars []model.OHLCV) (highs, lows []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}
	return highs, lows
}
