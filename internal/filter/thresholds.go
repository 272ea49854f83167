package filter

import (
	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// Regimes holds the regime classification bands and the thresholds each
// regime maps to.
type Regimes struct {
	Enabled bool

	LowRatio  float64
	HighRatio float64

	QuietMultiplier    float64
	NormalMultiplier   float64
	VolatileMultiplier float64

	BaseADX   float64
	NormalADX float64
	StrongADX float64

	StaticSpikeMultiplier float64
}

// RegimesFromConfig extracts Regimes from cfg.
func RegimesFromConfig(cfg *config.Config) Regimes {
	return Regimes{
		Enabled:               cfg.EnableDynamicThresholds,
		LowRatio:              cfg.RegimeLowRatio,
		HighRatio:             cfg.RegimeHighRatio,
		QuietMultiplier:       cfg.ATRQuietMultiplier,
		NormalMultiplier:      cfg.ATRNormalMultiplier,
		VolatileMultiplier:    cfg.ATRVolatileMultiplier,
		BaseADX:               cfg.ADXBaseThreshold,
		NormalADX:             cfg.ADXThreshold,
		StrongADX:             cfg.ADXStrongThreshold,
		StaticSpikeMultiplier: cfg.ATRSpikeMultiplier,
	}
}

// Thresholds classifies the volatility regime of ind and returns the filter
// thresholds for it. The result is a value, so one evaluation sees one state.
func Thresholds(ind *model.Indicators, r Regimes) model.ThresholdState {
	if !r.Enabled {
		return model.ThresholdState{
			Regime:             model.RegimeNormal,
			ADXFloor:           r.NormalADX,
			ATRSpikeMultiplier: r.StaticSpikeMultiplier,
			ATRRatio:           ind.ATRRatio,
		}
	}

	switch ratio := ind.ATRRatio; {
	case ratio < r.LowRatio:
		return model.ThresholdState{
			Regime:             model.RegimeLow,
			ADXFloor:           r.BaseADX,
			ATRSpikeMultiplier: r.QuietMultiplier,
			ATRRatio:           ratio,
		}
	case ratio > r.HighRatio:
		return model.ThresholdState{
			Regime:             model.RegimeHigh,
			ADXFloor:           r.StrongADX,
			ATRSpikeMultiplier: r.VolatileMultiplier,
			ATRRatio:           ratio,
		}
	default:
		return model.ThresholdState{
			Regime:             model.RegimeNormal,
			ADXFloor:           r.NormalADX,
			ATRSpikeMultiplier: r.NormalMultiplier,
			ATRRatio:           ratio,
		}
	}
}
