package inference

import (
	"math"
	"strings"
)

// Reasons an entry is quarantined.
const (
	rejectEmptyClass    = "empty_class"
	rejectBadConfidence = "invalid_confidence"
	rejectBadCoordinate = "invalid_coordinate"
	rejectMissingField  = "missing_field"
)

// validate converts a wire entry. It returns a non-empty reason when the
// entry must be dropped. Box ordering is left as the model produced it.
func validate(w wireDetection) (Detection, string) {
	name := strings.TrimSpace(w.ClassName)
	if name == "" {
		return Detection{}, rejectEmptyClass
	}
	if w.Confidence == nil || w.X1 == nil || w.Y1 == nil || w.X2 == nil || w.Y2 == nil {
		return Detection{}, rejectMissingField
	}

	conf := *w.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return Detection{}, rejectBadConfidence
	}
	for _, v := range []float64{*w.X1, *w.Y1, *w.X2, *w.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Detection{}, rejectBadCoordinate
		}
	}

	return Detection{
		ClassName:  name,
		ClassID:    w.ClassID,
		Confidence: conf,
		X1:         *w.X1,
		Y1:         *w.Y1,
		X2:         *w.X2,
		Y2:         *w.Y2,
	}, ""
}
