package model

// Indicators holds the computed indicator series for one candle series. Every
// slice is aligned with Candles; warm-up positions are zero.
type Indicators struct {
	Candles  []OHLCV
	ADX      []float64
	ATR      []float64
	EMAFast  []float64
	EMASlow  []float64
	VolumeMA []float64

	// Values at the newest candle.
	Price       float64
	ADXValue    float64
	ATRValue    float64
	EMAFastLast float64
	EMASlowLast float64
	VolumeRatio float64

	SwingHigh float64 // highest high of the lookback window before the newest candle
	SwingLow  float64 // lowest low of the lookback window before the newest candle
	AvgATR    float64 // mean ATR of the 10 candles before the newest one
	ATRRatio  float64 // short-run ATR mean over the longer-run mean
}

// Current returns the newest candle.
func (ind *Indicators) Current() OHLCV {
	return ind.Candles[len(ind.Candles)-1]
}

// Previous returns the candle before the newest one.
func (ind *Indicators) Previous() OHLCV {
	return ind.Candles[len(ind.Candles)-2]
}

// ThresholdState is the frozen set of filter thresholds for one evaluation.
type ThresholdState struct {
	Regime             Regime  `json:"regime"`
	ADXFloor           float64 `json:"adx_floor"`
	ATRSpikeMultiplier float64 `json:"atr_spike_multiplier"`
	ATRRatio           float64 `json:"atr_ratio"`
}

// Regime classifies recent volatility against its longer-run average.
type Regime string

const (
	RegimeLow    Regime = "low"
	RegimeNormal Regime = "normal"
	RegimeHigh   Regime = "high"
)
