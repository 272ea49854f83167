package filter

import (
	"errors"
	"testing"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

func TestThresholds_Regimes(t *testing.T) {
	r := RegimesFromConfig(config.Default())
	tests := []struct {
		ratio      float64
		wantRegime model.Regime
		wantADX    float64
		wantSpike  float64
	}{
		{0.6, model.RegimeLow, 18, 1.2},
		{0.8, model.RegimeNormal, 20, 1.5},
		{1.0, model.RegimeNormal, 20, 1.5},
		{1.5, model.RegimeNormal, 20, 1.5},
		{1.9, model.RegimeHigh, 25, 2.0},
	}

	for _, tt := range tests {
		ts := Thresholds(&model.Indicators{ATRRatio: tt.ratio}, r)
		if ts.Regime != tt.wantRegime || ts.ADXFloor != tt.wantADX || ts.ATRSpikeMultiplier != tt.wantSpike {
			t.Errorf("ratio %.2f: got %s adx=%.0f spike=%.1f, want %s adx=%.0f spike=%.1f",
				tt.ratio, ts.Regime, ts.ADXFloor, ts.ATRSpikeMultiplier, tt.wantRegime, tt.wantADX, tt.wantSpike)
		}
		if ts.ATRRatio != tt.ratio {
			t.Errorf("ratio %.2f not carried into the state", tt.ratio)
		}
	}
}

func TestThresholds_Static(t *testing.T) {
	cfg := config.Default()
	cfg.EnableDynamicThresholds = false
	ts := Thresholds(&model.Indicators{ATRRatio: 3}, RegimesFromConfig(cfg))
	if ts.Regime != model.RegimeNormal || ts.ADXFloor != 20 || ts.ATRSpikeMultiplier != 2.0 {
		t.Errorf("static thresholds: got %+v", ts)
	}
}

func tradable() *model.Indicators {
	return &model.Indicators{
		Price:       100,
		ADXValue:    28,
		ATRValue:    2,
		AvgATR:      1.8,
		EMAFastLast: 103,
		EMASlowLast: 100,
	}
}

func TestCheck_Gates(t *testing.T) {
	p := ParamsFromConfig(config.Default())
	ts := model.ThresholdState{Regime: model.RegimeNormal, ADXFloor: 20, ATRSpikeMultiplier: 1.5}

	if err := Check(tradable(), ts, p); err != nil {
		t.Fatalf("tradable market rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(ind *model.Indicators)
		gate   Gate
	}{
		{"weak trend", func(ind *model.Indicators) { ind.ADXValue = 15 }, GateTrendStrength},
		{"volatility spike", func(ind *model.Indicators) { ind.ATRValue = 3 }, GateVolatilitySpike},
		{"entangled EMAs", func(ind *model.Indicators) { ind.EMAFastLast = 101 }, GateEntanglement},
		{"trend checked first", func(ind *model.Indicators) { ind.ADXValue = 10; ind.ATRValue = 9 }, GateTrendStrength},
	}

	for _, tt := range tests {
		ind := tradable()
		tt.mutate(ind)
		err := Check(ind, ts, p)
		if !errors.Is(err, ErrFilterRejected) {
			t.Errorf("%s: got %v, want a rejection", tt.name, err)
			continue
		}
		var rej *RejectError
		if !errors.As(err, &rej) || rej.Gate != tt.gate {
			t.Errorf("%s: got %v, want gate %s", tt.name, err, tt.gate)
		}
	}
}

func TestCheck_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableMarketFilter = false
	ind := tradable()
	ind.ADXValue = 1
	if err := Check(ind, model.ThresholdState{ADXFloor: 20}, ParamsFromConfig(cfg)); err != nil {
		t.Errorf("disabled filter rejected: %v", err)
	}
}
