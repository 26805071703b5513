// Package ensemble fuses independent detector results into one verdict.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
)

// Severity is the alerting tier of an anomalous verdict.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// TypeMultiple is reported when two or more detectors agree.
const TypeMultiple = "MULTIPLE"

// Verdict is the ensemble decision for one transaction.
type Verdict struct {
	TransactionID string `json:"transaction_id"`
	IsAnomaly     bool   `json:"is_anomaly"`
	// AnomalyScore is in [0, 100].
	AnomalyScore int `json:"anomaly_score"`
	// Severity and AnomalyType are empty when IsAnomaly is false.
	Severity    Severity `json:"severity,omitempty"`
	AnomalyType string   `json:"anomaly_type,omitempty"`
	// DetectionMethods holds the results that flagged, highest priority first.
	DetectionMethods []detectors.Result `json:"detection_methods,omitempty"`
	// Results holds every detector's result, abstentions included.
	Results []detectors.Result `json:"results"`
}

// Result returns the result reported by the named detector.
func (v *Verdict) Result(name detectors.Name) (detectors.Result, bool) {
	for _, r := range v.Results {
		if r.Detector == name {
			return r, true
		}
	}
	return detectors.Result{}, false
}

// Config holds the aggregation settings.
type Config struct {
	// Weights per detector. Detectors missing from the map get weight 0.
	Weights map[detectors.Name]float64
	// Threshold is the anomaly score at or above which a verdict is anomalous.
	Threshold int
	// HighCutoff and MediumCutoff bound the severity bands.
	HighCutoff   int
	MediumCutoff int
	// MinConsensus is the number of flagging detectors that makes a verdict
	// anomalous regardless of the score.
	MinConsensus int
}

// DefaultConfig weighs the four detectors equally.
func DefaultConfig() Config {
	return Config{
		Weights: map[detectors.Name]float64{
			detectors.NameIsolation:   0.25,
			detectors.NameDensity:     0.25,
			detectors.NameStatistical: 0.25,
			detectors.NameRules:       0.25,
		},
		Threshold:    50,
		HighCutoff:   80,
		MediumCutoff: 50,
		MinConsensus: 2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var total float64
	for name, w := range c.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight for %s must be a finite value >= 0, got %v", detectors.ErrInvalidConfiguration, name, w)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("%w: ensemble weights must not all be zero", detectors.ErrInvalidConfiguration)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("%w: anomaly threshold must be in [0,100], got %d", detectors.ErrInvalidConfiguration, c.Threshold)
	}
	if c.MediumCutoff < 0 || c.HighCutoff > 100 || c.MediumCutoff > c.HighCutoff {
		return fmt.Errorf("%w: severity cutoffs must satisfy 0 <= medium (%d) <= high (%d) <= 100",
			detectors.ErrInvalidConfiguration, c.MediumCutoff, c.HighCutoff)
	}
	if c.MinConsensus < 1 {
		return fmt.Errorf("%w: min consensus must be >= 1, got %d", detectors.ErrInvalidConfiguration, c.MinConsensus)
	}
	return nil
}

// Aggregator combines detector results. It is stateless.
type Aggregator struct {
	cfg Config
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(a *Aggregator) {
		a.cfg = cfg
	}
}

// WithWeights replaces the weight table.
func WithWeights(w map[detectors.Name]float64) Option {
	return func(a *Aggregator) {
		a.cfg.Weights = w
	}
}

// New creates an Aggregator.
func New(opts ...Option) (*Aggregator, error) {
	a := &Aggregator{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Aggregate fuses the statistical, density, isolation and rule results.
func (a *Aggregator) Aggregate(statistical, density, isolation, rules detectors.Result) Verdict {
	return a.Combine(statistical, density, isolation, rules)
}

// Combine fuses any number of detector results.
//
// A flagging detector contributes its score, a detector voting normal
// contributes 0, and an abstaining detector is left out of the weighted
// average entirely.
func (a *Aggregator) Combine(results ...detectors.Result) Verdict {
	var weighted, denom float64
	var fired []detectors.Result
	voting := 0

	for _, r := range results {
		if r.Abstained {
			continue
		}
		voting++
		w := a.cfg.Weights[r.Detector]
		denom += w
		if r.Anomaly {
			weighted += w * detectors.ClampScore(r.Score)
			fired = append(fired, r)
		}
	}

	score := 0
	if denom > 0 {
		score = int(math.Round(weighted / denom))
	}

	sort.SliceStable(fired, func(i, j int) bool {
		return detectors.Rank(fired[i].Detector) < detectors.Rank(fired[j].Detector)
	})

	v := Verdict{
		AnomalyScore: score,
		IsAnomaly:    score >= a.cfg.Threshold || len(fired) >= a.cfg.MinConsensus,
		Results:      append([]detectors.Result(nil), results...),
	}
	if !v.IsAnomaly {
		return v
	}

	v.DetectionMethods = fired
	v.Severity = a.severity(score)
	if len(fired) == voting && len(fired) >= a.cfg.MinConsensus {
		// Every voting detector agreed.
		v.Severity = SeverityHigh
	}
	switch len(fired) {
	case 0:
	case 1:
		v.AnomalyType = string(fired[0].Detector)
	default:
		v.AnomalyType = TypeMultiple
	}
	return v
}

func (a *Aggregator) severity(score int) Severity {
	switch {
	case score >= a.cfg.HighCutoff:
		return SeverityHigh
	case score >= a.cfg.MediumCutoff:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
