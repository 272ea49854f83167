package strategy

import (
	"fmt"

	"BreakoutSentinel/internal/model"
)

// scoreMTF awards 2 points when the higher timeframe trend agrees.
func scoreMTF(sig model.Signal) model.FactorScore {
	if sig.MTFAligned {
		return model.FactorScore{Name: "mtf_alignment", Points: 2, Commentary: "higher timeframe agrees"}
	}
	return model.FactorScore{Name: "mtf_alignment", Points: 0, Commentary: "higher timeframe disagrees"}
}

// scoreADX awards 2 points for a strong trend.
func scoreADX(sig model.Signal, strong float64) model.FactorScore {
	points := 0
	if sig.ADXValue >= strong {
		points = 2
	}
	return model.FactorScore{
		Name:       "trend_strength",
		Points:     points,
		Commentary: fmt.Sprintf("ADX=%.1f", sig.ADXValue),
	}
}

func scoreVolume(sig model.Signal) model.FactorScore {
	var points int
	switch sig.VolumeGrade {
	case model.GradeExplosive, model.GradeStrong:
		points = 2
	case model.GradeModerate:
		points = 1
	}
	return model.FactorScore{
		Name:       "volume",
		Points:     points,
		Commentary: fmt.Sprintf("%s (%.2fx)", sig.VolumeGrade, sig.VolumeRatio),
	}
}

func scoreCandle(sig model.Signal) model.FactorScore {
	if sig.CandleConfirmed {
		return model.FactorScore{Name: "candle", Points: 1, Commentary: "closed with the signal"}
	}
	return model.FactorScore{Name: "candle", Points: 0, Commentary: "closed against the signal"}
}
