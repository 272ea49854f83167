package filter

import (
	"errors"
	"fmt"
	"math"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// ErrFilterRejected marks an expected rejection by one of the market gates.
var ErrFilterRejected = errors.New("filter rejected")

// Gate names a market filter gate.
type Gate string

const (
	GateTrendStrength   Gate = "trend_strength"
	GateVolatilitySpike Gate = "volatility_spike"
	GateEntanglement    Gate = "ema_entanglement"
)

// RejectError reports which gate failed and by how much.
type RejectError struct {
	Gate  Gate
	Value float64
	Limit float64
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: value %.4f, limit %.4f", e.Gate, e.Value, e.Limit)
}

func (e *RejectError) Is(target error) bool { return target == ErrFilterRejected }

// Params is the filter view of the configuration.
type Params struct {
	Enabled                  bool
	EMAEntanglementThreshold float64
}

// ParamsFromConfig extracts Params from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Enabled:                  cfg.EnableMarketFilter,
		EMAEntanglementThreshold: cfg.EMAEntanglementThreshold,
	}
}

// Check runs the three gates in order against the trend timeframe. It returns
// nil when the market is tradable and a *RejectError otherwise.
func Check(ind *model.Indicators, ts model.ThresholdState, p Params) error {
	if !p.Enabled {
		return nil
	}

	if ind.ADXValue < ts.ADXFloor {
		return &RejectError{Gate: GateTrendStrength, Value: ind.ADXValue, Limit: ts.ADXFloor}
	}

	if limit := ind.AvgATR * ts.ATRSpikeMultiplier; ind.AvgATR > 0 && ind.ATRValue > limit {
		return &RejectError{Gate: GateVolatilitySpike, Value: ind.ATRValue, Limit: limit}
	}

	if ind.Price <= 0 {
		return &RejectError{Gate: GateEntanglement, Value: 0, Limit: p.EMAEntanglementThreshold}
	}
	sep := math.Abs(ind.EMAFastLast-ind.EMASlowLast) / ind.Price
	if sep < p.EMAEntanglementThreshold {
		return &RejectError{Gate: GateEntanglement, Value: sep, Limit: p.EMAEntanglementThreshold}
	}
	return nil
}
