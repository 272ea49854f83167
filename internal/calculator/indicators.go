package calculator

import (
	"errors"
	"fmt"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// ErrInsufficientData means the series is shorter than the largest window an
// indicator needs. Callers skip the symbol for the cycle.
var ErrInsufficientData = errors.New("insufficient data")

const (
	minSeries      = 20
	avgATRWindow   = 10
	ratioShortSpan = 5
	ratioLongSpan  = 15
)

// Params selects the indicator windows.
type Params struct {
	Lookback       int
	ATRPeriod      int
	VolumeMAPeriod int
	ADXPeriod      int
	EMAFast        int
	EMASlow        int
}

// ParamsFromConfig extracts Params from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Lookback:       cfg.LookbackPeriod,
		ATRPeriod:      cfg.ATRPeriod,
		VolumeMAPeriod: cfg.VolumeMAPeriod,
		ADXPeriod:      cfg.ADXPeriod,
		EMAFast:        cfg.EMAFast,
		EMASlow:        cfg.EMASlow,
	}
}

// MinCandles is the shortest series Compute accepts for p.
func MinCandles(p Params) int {
	need := minSeries
	for _, w := range []int{p.Lookback + 1, p.ATRPeriod + 1, p.VolumeMAPeriod, p.EMASlow, 2 * p.ADXPeriod} {
		if w > need {
			need = w
		}
	}
	return need
}

// Compute derives every indicator the detectors and filter read from one
// candle series. It is a pure function of its input.
func Compute(bars []model.OHLCV, p Params) (*model.Indicators, error) {
	if need := MinCandles(p); len(bars) < need {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(bars), need)
	}

	ind := &model.Indicators{
		Candles:  bars,
		ADX:      ADX(bars, p.ADXPeriod),
		ATR:      ATR(bars, p.ATRPeriod),
		EMAFast:  EMA(bars, p.EMAFast),
		EMASlow:  EMA(bars, p.EMASlow),
		VolumeMA: VolumeMA(bars, p.VolumeMAPeriod),
	}

	last := len(bars) - 1
	ind.Price = bars[last].Close
	ind.ADXValue = ind.ADX[last]
	ind.ATRValue = ind.ATR[last]
	ind.EMAFastLast = ind.EMAFast[last]
	ind.EMASlowLast = ind.EMASlow[last]
	if ma := ind.VolumeMA[last]; ma > 0 {
		ind.VolumeRatio = bars[last].Volume / ma
	}

	high, low, err := SwingExtremes(bars, p.Lookback)
	if err != nil {
		return nil, err
	}
	ind.SwingHigh, ind.SwingLow = high, low

	ind.AvgATR = mean(ind.ATR, last-avgATRWindow, last)
	if ind.AvgATR == 0 {
		ind.AvgATR = ind.ATRValue
	}
	ind.ATRRatio = ATRRatio(ind.ATR, ratioShortSpan, ratioLongSpan)
	return ind, nil
}
