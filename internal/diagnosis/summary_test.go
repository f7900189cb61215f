package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spinescan/spinescan/internal/datastore"
)

func det(class string, conf float64) datastore.Detection {
	return datastore.Detection{ClassName: class, Confidence: conf}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		detections []datastore.Detection
		label      Verdict
		confidence float64
		reason     string
	}{
		{
			name:       "strong scoliosis",
			detections: []datastore.Detection{det(ScoliosisClass, 0.62)},
			label:      Scoliosis,
			confidence: 0.62,
			reason:     "Strong scoliosis evidence: best scoliosis 62% (1 det.)",
		},
		{
			name:       "strong normal with weak scoliosis",
			detections: []datastore.Detection{det(NormalClass, 0.6), det(ScoliosisClass, 0.3), det(NormalClass, 0.8)},
			label:      Normal,
			confidence: 0.8,
			reason:     "Strong normal evidence: best normal 80% (2 det.)",
		},
		{
			name:       "both strong, scoliosis leads by margin",
			detections: []datastore.Detection{det(ScoliosisClass, 0.7), det(NormalClass, 0.55)},
			label:      Scoliosis,
			confidence: 0.7,
			reason:     "Scoliosis score higher (Δ=0.15). best scoliosis 70% (1 det.); best normal 55% (1 det.)",
		},
		{
			name: "normal leads through support bonus",
			detections: []datastore.Detection{
				det(NormalClass, 0.45), det(NormalClass, 0.40), det(NormalClass, 0.30), det(ScoliosisClass, 0.3),
			},
			label:      Normal,
			confidence: 0.45,
			reason:     "Normal score higher (Δ=0.25). best normal 45% (3 det.); best scoliosis 30% (1 det.)",
		},
		{
			name:       "margin reached within float tolerance",
			detections: []datastore.Detection{det(ScoliosisClass, 0.35), det(ScoliosisClass, 0.30), det(NormalClass, 0.30)},
			label:      Scoliosis,
			confidence: 0.35,
			reason:     "Scoliosis score higher (Δ=0.10). best scoliosis 35% (2 det.); best normal 30% (1 det.)",
		},
		{
			name:       "too close to call",
			detections: []datastore.Detection{det(ScoliosisClass, 0.4), det(NormalClass, 0.35)},
			label:      Uncertain,
			confidence: 0.4,
			reason:     "Too close to call. best scoliosis 40% (1 det.); best normal 35% (1 det.)",
		},
		{
			name:       "both strong and equal",
			detections: []datastore.Detection{det(ScoliosisClass, 0.6), det(NormalClass, 0.6)},
			label:      Uncertain,
			confidence: 0.6,
			reason:     "Too close to call. best scoliosis 60% (1 det.); best normal 60% (1 det.)",
		},
		{
			name:       "single weak class below strong",
			detections: []datastore.Detection{det(ScoliosisClass, 0.3)},
			label:      Scoliosis,
			confidence: 0.3,
			reason:     "Scoliosis score higher (Δ=0.30). best scoliosis 30% (1 det.); no normal detections above threshold",
		},
		{
			name:       "no evidence",
			detections: []datastore.Detection{det(ScoliosisClass, 0.2), det("pelvis", 0.99)},
			label:      Uncertain,
			confidence: 0,
			reason:     "No “scoliosis spine” or “normal spine” detections ≥ 25%",
		},
		{
			name:       "empty input",
			detections: nil,
			label:      Uncertain,
			confidence: 0,
			reason:     "No “scoliosis spine” or “normal spine” detections ≥ 25%",
		},
		{
			name:       "threshold is inclusive",
			detections: []datastore.Detection{det(NormalClass, 0.25)},
			label:      Normal,
			confidence: 0.25,
			reason:     "Normal score higher (Δ=0.25). best normal 25% (1 det.); no scoliosis detections above threshold",
		},
		{
			name:       "percent rounds half up",
			detections: []datastore.Detection{det(ScoliosisClass, 0.625)},
			label:      Scoliosis,
			confidence: 0.625,
			reason:     "Strong scoliosis evidence: best scoliosis 63% (1 det.)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Summarize(tt.detections)
			assert.Equal(t, tt.label, got.Label)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestSummarizeScores(t *testing.T) {
	t.Parallel()

	got := Summarize([]datastore.Detection{
		det(ScoliosisClass, 0.3), det(ScoliosisClass, 0.3), det(ScoliosisClass, 0.3),
		det(ScoliosisClass, 0.3), det(ScoliosisClass, 0.3),
		det(NormalClass, 0.4), det(NormalClass, 0.1),
	})

	assert.InDelta(t, 0.45, got.ScoliosisScore, 1e-9, "bonus capped at 0.15")
	assert.InDelta(t, 0.40, got.NormalScore, 1e-9, "sub-threshold detections ignored")
}

func TestSummarizeIgnoresInputOrder(t *testing.T) {
	t.Parallel()

	a := Summarize([]datastore.Detection{det(NormalClass, 0.3), det(NormalClass, 0.45)})
	b := Summarize([]datastore.Detection{det(NormalClass, 0.45), det(NormalClass, 0.3)})
	assert.Equal(t, a, b)
}
