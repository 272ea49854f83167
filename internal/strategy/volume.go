package strategy

import "BreakoutSentinel/internal/model"

// VolumeThresholds are the lower bounds of each grade, as multiples of the
// volume moving average.
type VolumeThresholds struct {
	Explosive float64
	Strong    float64
	Moderate  float64
	Minimum   float64
}

// GradeVolume classifies a volume ratio. Thresholds are checked top-down.
func GradeVolume(ratio float64, t VolumeThresholds) model.VolumeGrade {
	switch {
	case ratio >= t.Explosive:
		return model.GradeExplosive
	case ratio >= t.Strong:
		return model.GradeStrong
	case ratio >= t.Moderate:
		return model.GradeModerate
	case ratio >= t.Minimum:
		return model.GradeWeak
	default:
		return model.GradeNone
	}
}

// Acceptable reports whether a signal of grade g may continue to the filter.
func Acceptable(g model.VolumeGrade, p Params) bool {
	if !p.EnableVolumeGrading || p.AcceptWeakSignals {
		return true
	}
	return g != model.GradeWeak && g != model.GradeNone
}
