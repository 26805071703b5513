// Package detectors provides the common contract shared by the anomaly
// detectors of the scoring ensemble.
package detectors

import (
	"errors"
	"math"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// Name identifies a detector in results and verdicts.
type Name string

const (
	NameIsolation   Name = "isolation_forest"
	NameDensity     Name = "lof"
	NameStatistical Name = "z_score"
	NameRules       Name = "business_rules"
)

// Priority orders detectors from the lowest to the highest expected false
// positive rate. It breaks ties when reporting which detectors fired.
var Priority = []Name{NameIsolation, NameDensity, NameStatistical, NameRules}

// Rank returns the position of n in Priority, or len(Priority) if unknown.
func Rank(n Name) int {
	for i, p := range Priority {
		if p == n {
			return i
		}
	}
	return len(Priority)
}

// ErrInvalidConfiguration is returned by constructors given out-of-range
// settings.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Detector is the common interface for all anomaly detectors.
type Detector interface {
	// Name identifies the detector.
	Name() Name

	// Fit prepares the detector against a peer population. Detectors that do
	// not need a population return a model that ignores it.
	Fit(pop *Population) (Model, error)

	// Score is Fit followed by Model.Score for a single vector.
	Score(v *features.Vector, pop *Population) Result
}

// Model is a detector bound to one population. Models are immutable and
// safe for concurrent use.
type Model interface {
	Score(v *features.Vector) Result
}

// ModelFunc adapts a function to Model.
type ModelFunc func(v *features.Vector) Result

// Score implements Model.
func (f ModelFunc) Score(v *features.Vector) Result { return f(v) }

// Result is one detector's opinion on one transaction.
type Result struct {
	Detector Name `json:"detector"`
	// Anomaly is true when the detector flags the transaction.
	Anomaly bool `json:"anomaly"`
	// Score is in [0, 100]. Each detector documents its scale.
	Score float64 `json:"score"`
	// Reason is a human readable explanation.
	Reason string `json:"reason"`
	// Abstained is set when the detector had too little data to vote.
	Abstained bool `json:"abstained,omitempty"`
}

// Abstain builds a non-voting result.
func Abstain(name Name, reason string) Result {
	return Result{Detector: name, Reason: reason, Abstained: true}
}

// ClampScore limits s to [0, 100], mapping NaN to 0.
func ClampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

// RelativeScore expresses value as a percentage of threshold, capped at 100.
func RelativeScore(value, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return ClampScore(math.Min(value/threshold, 1) * 100)
}

// Abstention reasons.
const (
	ReasonInsufficientHistory    = "insufficient-history"
	ReasonInsufficientPopulation = "insufficient-population"
)
