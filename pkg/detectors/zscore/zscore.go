// Package zscore flags transactions whose value sits too many standard
// deviations away from the user's own running mean.
package zscore

import (
	"fmt"
	"math"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// Config holds the detector settings.
type Config struct {
	// Threshold is the |z| above which a transaction is flagged.
	Threshold float64
	// MinHistory is the number of prior transactions needed to vote.
	MinHistory int
}

// DefaultConfig returns the defaults: |z| > 3 with at least 5 prior
// transactions.
func DefaultConfig() Config {
	return Config{
		Threshold:  3.0,
		MinHistory: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.Threshold > 0) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("%w: z-score threshold must be positive, got %v", detectors.ErrInvalidConfiguration, c.Threshold)
	}
	if c.MinHistory < 0 {
		return fmt.Errorf("%w: z-score min history must be >= 0, got %d", detectors.ErrInvalidConfiguration, c.MinHistory)
	}
	return nil
}

// Detector is the statistical detector. It ignores the peer population.
type Detector struct {
	cfg Config
}

// Option configures a Detector.
type Option func(*Detector)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Detector) {
		d.cfg = cfg
	}
}

// WithThreshold sets the |z| threshold.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		d.cfg.Threshold = t
	}
}

// WithMinHistory sets the prior transaction count required to vote.
func WithMinHistory(n int) Option {
	return func(d *Detector) {
		d.cfg.MinHistory = n
	}
}

// New creates a Detector.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

var _ detectors.Detector = (*Detector)(nil)

// Name implements detectors.Detector.
func (d *Detector) Name() detectors.Name { return detectors.NameStatistical }

// Fit implements detectors.Detector. The population is not used.
func (d *Detector) Fit(*detectors.Population) (detectors.Model, error) {
	return detectors.ModelFunc(d.score), nil
}

// Score implements detectors.Detector.
func (d *Detector) Score(v *features.Vector, _ *detectors.Population) detectors.Result {
	return d.score(v)
}

// score reports min(|z|/threshold, 1) * 100.
func (d *Detector) score(v *features.Vector) detectors.Result {
	if v.UserTxCount < d.cfg.MinHistory {
		return detectors.Abstain(detectors.NameStatistical, detectors.ReasonInsufficientHistory)
	}

	z := math.Abs(v.Deviation)
	res := detectors.Result{
		Detector: detectors.NameStatistical,
		Anomaly:  z > d.cfg.Threshold,
		Score:    detectors.RelativeScore(z, d.cfg.Threshold),
	}
	if res.Anomaly {
		res.Reason = fmt.Sprintf("value %.2f is %.1f std from user mean %.2f (threshold %.1f)",
			v.Value, v.Deviation, v.RunningMean, d.cfg.Threshold)
	} else {
		res.Reason = fmt.Sprintf("z=%.2f within threshold %.1f", v.Deviation, d.cfg.Threshold)
	}
	return res
}
