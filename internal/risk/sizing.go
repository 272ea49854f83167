package risk

import (
	"errors"
	"fmt"
	"math"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// ErrRiskBudgetExceeded marks an entry refused by a risk gate. It is an
// expected outcome.
var ErrRiskBudgetExceeded = errors.New("risk budget exceeded")

// ErrInvalidStop means the stop leaves no measurable risk unit.
var ErrInvalidStop = errors.New("invalid stop")

// Params is the risk view of the configuration.
type Params struct {
	RiskPerTrade         float64
	MaxTotalRisk         float64
	MaxPositionsPerGroup int
	MaxPositionPercent   float64
	Leverage             float64
	ATRMultiplier        float64
}

// ParamsFromConfig extracts Params from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		RiskPerTrade:         cfg.RiskPerTrade,
		MaxTotalRisk:         cfg.MaxTotalRisk,
		MaxPositionsPerGroup: cfg.MaxPositionsPerGroup,
		MaxPositionPercent:   cfg.MaxPositionPercent,
		Leverage:             cfg.Leverage,
		ATRMultiplier:        cfg.ATRMultiplier,
	}
}

// InitialStop widens the detector's structural stop by ATR × atrMult.
func InitialStop(sig model.Signal, atrMult float64) float64 {
	return sig.StopPrice - sig.Direction.Sign()*sig.ATR*atrMult
}

// Size returns the position size for one entry:
// balance × risk_per_trade × tierMult / |entry − stop|, capped by the
// notional limit max_position_percent × leverage × balance / entry.
func Size(balance, entry, stop, tierMult float64, p Params) (float64, error) {
	if balance <= 0 {
		return 0, fmt.Errorf("balance %.2f is not positive", balance)
	}
	if entry <= 0 {
		return 0, fmt.Errorf("entry %.8f is not positive", entry)
	}
	riskUnit := math.Abs(entry - stop)
	if riskUnit == 0 || stop <= 0 {
		return 0, fmt.Errorf("%w: entry %.8f, stop %.8f", ErrInvalidStop, entry, stop)
	}
	size := balance * p.RiskPerTrade * tierMult / riskUnit
	limit := p.MaxPositionPercent * p.Leverage * balance / entry
	return math.Min(size, limit), nil
}
