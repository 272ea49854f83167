package model

// Direction is the side of a position or signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite returns the closing side.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// Strategy names the detector that produced a signal.
type Strategy string

const (
	StrategyVolumeBreakout Strategy = "volume_breakout"
	StrategyFalseBreakout  Strategy = "false_breakout"
	StrategyPullback       Strategy = "pullback"
)

// VolumeGrade classifies the volume ratio behind a signal.
type VolumeGrade string

const (
	GradeExplosive VolumeGrade = "explosive"
	GradeStrong    VolumeGrade = "strong"
	GradeModerate  VolumeGrade = "moderate"
	GradeWeak      VolumeGrade = "weak"
	GradeNone      VolumeGrade = "none"
)

// Signal is a detector's candidate entry. It lives for one cycle.
type Signal struct {
	Symbol          string      `json:"symbol"`
	Direction       Direction   `json:"direction"`
	Strategy        Strategy    `json:"strategy"`
	EntryPrice      float64     `json:"entry_price"`
	StopPrice       float64     `json:"stop_price"`
	VolumeGrade     VolumeGrade `json:"volume_grade"`
	VolumeRatio     float64     `json:"volume_ratio"`
	MTFAligned      bool        `json:"mtf_aligned"`
	ADXValue        float64     `json:"adx_value"`
	CandleConfirmed bool        `json:"candle_confirmed"`
	ATR             float64     `json:"atr"`
}

// FactorScore represents a single factor's scoring result.
type FactorScore struct {
	Name       string `json:"name"`
	Points     int    `json:"points"`
	Commentary string `json:"commentary"`
}

// Tier is the quality class of an admitted signal. It only scales size.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ScoredSignal is a Signal with its deterministic score and tier.
type ScoredSignal struct {
	Signal
	Score          int           `json:"score"`
	Tier           Tier          `json:"tier"`
	SizeMultiplier float64       `json:"size_multiplier"`
	Factors        []FactorScore `json:"factors"`
}
