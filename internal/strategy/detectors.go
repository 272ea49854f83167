package strategy

import (
	"math"

	"BreakoutSentinel/internal/model"
)

// maxPierceATR bounds how far a false breakout may travel past the swing
// extreme, in ATRs. Deeper moves are real breakouts.
const maxPierceATR = 3.0

// pullbackStopATR is the buffer placed beyond a touched EMA.
const pullbackStopATR = 0.5

// detectVolumeBreakout fires on a volume surge that closes beyond the swing
// extreme with a candle body in the same direction.
func detectVolumeBreakout(ind *model.Indicators, p Params) (model.Signal, bool) {
	if ind.VolumeRatio < p.VolumeBreakoutMult {
		return model.Signal{}, false
	}
	cur := ind.Current()
	switch {
	case p.AllowLong && cur.Close > ind.SwingHigh && cur.Bullish():
		return model.Signal{
			Direction:       model.Long,
			EntryPrice:      cur.Close,
			StopPrice:       ind.SwingLow,
			VolumeGrade:     model.GradeExplosive,
			CandleConfirmed: true,
		}, true
	case p.AllowShort && cur.Close < ind.SwingLow && cur.Bearish():
		return model.Signal{
			Direction:       model.Short,
			EntryPrice:      cur.Close,
			StopPrice:       ind.SwingHigh,
			VolumeGrade:     model.GradeExplosive,
			CandleConfirmed: true,
		}, true
	}
	return model.Signal{}, false
}

// detectFalseBreakout fires when the newest candle pierces a swing extreme and
// closes back inside the range. If both sides are pierced the short reading
// wins.
func detectFalseBreakout(ind *model.Indicators, p Params) (model.Signal, bool) {
	cur := ind.Current()
	limit := ind.ATRValue * maxPierceATR

	grade := model.GradeModerate
	if p.EnableVolumeGrading {
		grade = GradeVolume(ind.VolumeRatio, p.Volume)
	}

	bearish := p.AllowShort && cur.High > ind.SwingHigh && cur.Close < ind.SwingHigh &&
		cur.High-ind.SwingHigh < limit
	if bearish {
		return model.Signal{
			Direction:       model.Short,
			EntryPrice:      cur.Close,
			StopPrice:       cur.High,
			VolumeGrade:     grade,
			CandleConfirmed: cur.Bearish(),
		}, true
	}

	bullish := p.AllowLong && cur.Low < ind.SwingLow && cur.Close > ind.SwingLow &&
		ind.SwingLow-cur.Low < limit
	if bullish {
		return model.Signal{
			Direction:       model.Long,
			EntryPrice:      cur.Close,
			StopPrice:       cur.Low,
			VolumeGrade:     grade,
			CandleConfirmed: cur.Bullish(),
		}, true
	}
	return model.Signal{}, false
}

// detectPullback fires when a trending market retraces to one of its EMAs on
// the previous candle and the newest candle resumes the trend.
func detectPullback(ind *model.Indicators, p Params) (model.Signal, bool) {
	if len(ind.Candles) < 2 || ind.VolumeRatio < p.PullbackVolumeMin {
		return model.Signal{}, false
	}
	prev, cur := ind.Previous(), ind.Current()
	fast, slow := ind.EMAFastLast, ind.EMASlowLast
	buffer := ind.ATRValue * pullbackStopATR

	switch {
	case p.AllowLong && fast > slow:
		ema, ok := touchedEMA(prev.Low, fast, slow, p.EMAPullbackThreshold)
		if !ok || cur.Close <= ema {
			break
		}
		stop, ok := tighterStop(model.Long, cur.Close, ema-buffer, math.Min(prev.Low, cur.Low))
		if !ok {
			break
		}
		return model.Signal{
			Direction:       model.Long,
			EntryPrice:      cur.Close,
			StopPrice:       stop,
			VolumeGrade:     model.GradeModerate,
			CandleConfirmed: cur.Bullish(),
		}, true
	case p.AllowShort && fast < slow:
		ema, ok := touchedEMA(prev.High, fast, slow, p.EMAPullbackThreshold)
		if !ok || cur.Close >= ema {
			break
		}
		stop, ok := tighterStop(model.Short, cur.Close, ema+buffer, math.Max(prev.High, cur.High))
		if !ok {
			break
		}
		return model.Signal{
			Direction:       model.Short,
			EntryPrice:      cur.Close,
			StopPrice:       stop,
			VolumeGrade:     model.GradeModerate,
			CandleConfirmed: cur.Bearish(),
		}, true
	}
	return model.Signal{}, false
}

// touchedEMA returns the EMA that price came within threshold of, fast first.
func touchedEMA(price, fast, slow, threshold float64) (float64, bool) {
	for _, ema := range []float64{fast, slow} {
		if ema > 0 && math.Abs(price-ema) < ema*threshold {
			return ema, true
		}
	}
	return 0, false
}

// tighterStop picks the candidate closest to entry that still sits on the
// losing side of it.
func tighterStop(d model.Direction, entry, a, b float64) (float64, bool) {
	valid := func(s float64) bool {
		if d == model.Short {
			return s > entry
		}
		return s < entry
	}
	switch {
	case valid(a) && valid(b):
		if d == model.Short {
			return math.Min(a, b), true
		}
		return math.Max(a, b), true
	case valid(a):
		return a, true
	case valid(b):
		return b, true
	}
	return 0, false
}
