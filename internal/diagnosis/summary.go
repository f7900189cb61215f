// Package diagnosis turns a scan's detections into a verdict with a human
// readable explanation. Summaries are derived on every read and never stored.
package diagnosis

import (
	"fmt"
	"math"
	"sort"

	"github.com/spinescan/spinescan/internal/datastore"
)

// Verdict is the diagnostic label of a scan.
type Verdict string

const (
	Scoliosis Verdict = "Scoliosis"
	Normal    Verdict = "Normal"
	Uncertain Verdict = "Uncertain"
)

// Tracked class names as emitted by the detection model.
const (
	ScoliosisClass = "scoliosis spine"
	NormalClass    = "normal spine"
)

const (
	// MinConf drops weaker detections before scoring.
	MinConf = 0.25
	// StrongConf is the confidence at which a single class wins outright.
	StrongConf = 0.50
	// Margin is the score lead one class needs over the other.
	Margin = 0.10

	supportBonusStep = 0.05
	supportBonusCap  = 0.15

	epsilon = 1e-9
)

// Summary is the scorer's output.
type Summary struct {
	Label          Verdict `json:"label"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	ScoliosisScore float64 `json:"scoliosisScore"`
	NormalScore    float64 `json:"normalScore"`
}

// classEvidence is the filtered, sorted view of one tracked class.
type classEvidence struct {
	name        string
	confidences []float64
}

func collect(detections []datastore.Detection, className, name string) classEvidence {
	ev := classEvidence{name: name}
	for _, d := range detections {
		if d.ClassName == className && d.Confidence >= MinConf {
			ev.confidences = append(ev.confidences, d.Confidence)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ev.confidences)))
	return ev
}

func (e classEvidence) best() float64 {
	if len(e.confidences) == 0 {
		return 0
	}
	return e.confidences[0]
}

// score is the best confidence plus a capped bonus per extra supporting box.
func (e classEvidence) score() float64 {
	extra := math.Max(0, float64(len(e.confidences)-1))
	return e.best() + math.Min(supportBonusCap, supportBonusStep*extra)
}

func (e classEvidence) describe() string {
	if len(e.confidences) == 0 {
		return fmt.Sprintf("no %s detections above threshold", e.name)
	}
	return fmt.Sprintf("best %s %d%% (%d det.)", e.name, percent(e.best()), len(e.confidences))
}

// percent rounds half up to a whole percentage.
func percent(v float64) int {
	return int(math.Floor(v*100 + 0.5))
}

// Summarize scores detections. Classes other than the two tracked ones are
// ignored. The result depends only on the input.
func Summarize(detections []datastore.Detection) Summary {
	s := collect(detections, ScoliosisClass, "scoliosis")
	n := collect(detections, NormalClass, "normal")

	bestS, bestN := s.best(), n.best()
	scoreS, scoreN := s.score(), n.score()
	evS, evN := s.describe(), n.describe()

	out := Summary{ScoliosisScore: scoreS, NormalScore: scoreN}

	switch {
	case bestS >= StrongConf && bestN < StrongConf:
		out.Label, out.Confidence = Scoliosis, bestS
		out.Reason = "Strong scoliosis evidence: " + evS

	case bestN >= StrongConf && bestS < StrongConf:
		out.Label, out.Confidence = Normal, bestN
		out.Reason = "Strong normal evidence: " + evN

	case scoreS > 0 || scoreN > 0:
		switch {
		case scoreS-scoreN >= Margin-epsilon:
			out.Label, out.Confidence = Scoliosis, bestS
			out.Reason = fmt.Sprintf("Scoliosis score higher (Δ=%.2f). %s; %s", scoreS-scoreN, evS, evN)
		case scoreN-scoreS >= Margin-epsilon:
			out.Label, out.Confidence = Normal, bestN
			out.Reason = fmt.Sprintf("Normal score higher (Δ=%.2f). %s; %s", scoreN-scoreS, evN, evS)
		default:
			out.Label, out.Confidence = Uncertain, math.Max(bestS, bestN)
			out.Reason = fmt.Sprintf("Too close to call. %s; %s", evS, evN)
		}

	default:
		out.Label, out.Confidence = Uncertain, 0
		out.Reason = fmt.Sprintf("No “%s” or “%s” detections ≥ %d%%", ScoliosisClass, NormalClass, percent(MinConf))
	}

	return out
}
