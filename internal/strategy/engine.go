package strategy

import (
	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// Params is the detector and scorer view of the configuration.
type Params struct {
	AllowLong  bool
	AllowShort bool

	EnableVolumeBreakout bool
	EnableEMAPullback    bool
	EnableVolumeGrading  bool
	EnableTieredEntry    bool
	AcceptWeakSignals    bool

	VolumeBreakoutMult   float64
	PullbackVolumeMin    float64
	EMAPullbackThreshold float64
	Volume               VolumeThresholds
	ADXStrong            float64

	TierMultipliers map[model.Tier]float64
}

// ParamsFromConfig extracts Params from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		AllowLong:            cfg.TradingDirection != "short",
		AllowShort:           cfg.TradingDirection != "long",
		EnableVolumeBreakout: cfg.EnableVolumeBreakout,
		EnableEMAPullback:    cfg.EnableEMAPullback,
		EnableVolumeGrading:  cfg.EnableVolumeGrading,
		EnableTieredEntry:    cfg.EnableTieredEntry,
		AcceptWeakSignals:    cfg.AcceptWeakSignals,
		VolumeBreakoutMult:   cfg.VolumeBreakoutMult,
		PullbackVolumeMin:    cfg.PullbackVolumeMin,
		EMAPullbackThreshold: cfg.EMAPullbackThreshold,
		Volume: VolumeThresholds{
			Explosive: cfg.VolExplosiveThreshold,
			Strong:    cfg.VolStrongThreshold,
			Moderate:  cfg.VolModerateThreshold,
			Minimum:   cfg.VolMinimumThreshold,
		},
		ADXStrong: cfg.ADXStrongThreshold,
		TierMultipliers: map[model.Tier]float64{
			model.TierA: cfg.TierAPositionMult,
			model.TierB: cfg.TierBPositionMult,
			model.TierC: cfg.TierCPositionMult,
		},
	}
}

func (p Params) allows(d model.Direction) bool {
	if d == model.Short {
		return p.AllowShort
	}
	return p.AllowLong
}

// Detector inspects one indicator set and reports at most one signal.
type Detector func(ind *model.Indicators, p Params) (model.Signal, bool)

// Detectors lists the strategies in priority order.
var Detectors = []struct {
	Strategy model.Strategy
	Detect   Detector
}{
	{model.StrategyVolumeBreakout, detectVolumeBreakout},
	{model.StrategyFalseBreakout, detectFalseBreakout},
	{model.StrategyPullback, detectPullback},
}

func (p Params) enabled(s model.Strategy) bool {
	switch s {
	case model.StrategyVolumeBreakout:
		return p.EnableVolumeBreakout
	case model.StrategyPullback:
		return p.EnableEMAPullback
	}
	return true
}

// Detect runs the enabled detectors in priority order. The first one that
// fires decides the outcome for the symbol: its signal is returned, or nothing
// at all when its volume grade is not acceptable.
func Detect(symbol string, ind *model.Indicators, p Params) (model.Signal, bool) {
	for _, d := range Detectors {
		if !p.enabled(d.Strategy) {
			continue
		}
		sig, ok := d.Detect(ind, p)
		if !ok || !p.allows(sig.Direction) {
			continue
		}
		sig.Symbol = symbol
		sig.Strategy = d.Strategy
		sig.VolumeRatio = ind.VolumeRatio
		sig.ATR = ind.ATRValue
		if !Acceptable(sig.VolumeGrade, p) {
			return model.Signal{}, false
		}
		return sig, true
	}
	return model.Signal{}, false
}

// Tiers maps a minimum score to its tier, highest first.
var Tiers = []struct {
	MinScore int
	Tier     model.Tier
}{
	{6, model.TierA},
	{4, model.TierB},
	{0, model.TierC},
}

// mapTier maps a total score to a tier.
func mapTier(score int) model.Tier {
	for _, t := range Tiers {
		if score >= t.MinScore {
			return t.Tier
		}
	}
	return model.TierC
}

// Score computes the factor total and tier of an admitted signal. With
// tiering disabled every signal is sized as tier B.
func Score(sig model.Signal, p Params) model.ScoredSignal {
	factors := []model.FactorScore{
		scoreMTF(sig),
		scoreADX(sig, p.ADXStrong),
		scoreVolume(sig),
		scoreCandle(sig),
	}
	total := 0
	for _, f := range factors {
		total += f.Points
	}

	tier := mapTier(total)
	if !p.EnableTieredEntry {
		tier = model.TierB
	}
	return model.ScoredSignal{
		Signal:         sig,
		Score:          total,
		Tier:           tier,
		SizeMultiplier: p.TierMultipliers[tier],
		Factors:        factors,
	}
}
