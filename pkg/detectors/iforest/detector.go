package iforest

import (
	"fmt"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// Config holds the isolation detector settings.
type Config struct {
	Trees         int
	SampleSize    int
	Contamination float64
	// MinPopulation is the smallest population the detector votes on.
	MinPopulation int
	Seed          int64
}

// DefaultConfig returns 100 trees, ψ=256, 1% contamination, seed 42.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.01,
		MinPopulation: 10,
		Seed:          42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Trees <= 0:
		return fmt.Errorf("%w: isolation tree count must be positive, got %d", detectors.ErrInvalidConfiguration, c.Trees)
	case c.SampleSize < 2:
		return fmt.Errorf("%w: isolation sample size must be >= 2, got %d", detectors.ErrInvalidConfiguration, c.SampleSize)
	case !(c.Contamination > 0 && c.Contamination < 0.5):
		return fmt.Errorf("%w: contamination must be in (0, 0.5), got %v", detectors.ErrInvalidConfiguration, c.Contamination)
	case c.MinPopulation < 2:
		return fmt.Errorf("%w: isolation min population must be >= 2, got %d", detectors.ErrInvalidConfiguration, c.MinPopulation)
	}
	return nil
}

// Detector builds a fresh seeded forest per population.
type Detector struct {
	cfg Config
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) DetectorOption {
	return func(d *Detector) {
		d.cfg = cfg
	}
}

// NewDetector creates a Detector.
func NewDetector(opts ...DetectorOption) (*Detector, error) {
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
func (d *Detector) Name() detectors.Name { return detectors.NameIsolation }

// Score implements detectors.Detector.
func (d *Detector) Score(v *features.Vector, pop *detectors.Population) detectors.Result {
	m, err := d.Fit(pop)
	if err != nil {
		return detectors.Abstain(detectors.NameIsolation, err.Error())
	}
	return m.Score(v)
}

// Fit trains a forest on the population's raw feature matrix. Populations
// below MinPopulation yield a model that always abstains.
func (d *Detector) Fit(pop *detectors.Population) (detectors.Model, error) {
	if pop.Len() < d.cfg.MinPopulation {
		return detectors.ModelFunc(func(*features.Vector) detectors.Result {
			return detectors.Abstain(detectors.NameIsolation, detectors.ReasonInsufficientPopulation)
		}), nil
	}

	forest := New(
		WithTrees(d.cfg.Trees),
		WithSampleSize(d.cfg.SampleSize),
		WithContamination(d.cfg.Contamination),
		WithSeed(d.cfg.Seed),
	)
	if err := forest.Fit(pop.Raw()); err != nil {
		return nil, fmt.Errorf("fit isolation forest: %w", err)
	}
	return &model{forest: forest}, nil
}

type model struct {
	forest *IsolationForest
}

// Score reports the normalized isolation score as a percentage of the
// contamination threshold, capped at 100.
func (m *model) Score(v *features.Vector) detectors.Result {
	if v.InsufficientHistory {
		return detectors.Abstain(detectors.NameIsolation, detectors.ReasonInsufficientHistory)
	}
	sample := v.Values()
	s := m.forest.predictOne(sample)
	threshold := m.forest.Threshold()

	res := detectors.Result{
		Detector: detectors.NameIsolation,
		Anomaly:  s > threshold,
		Score:    detectors.RelativeScore(s, threshold),
	}
	if res.Anomaly {
		res.Reason = fmt.Sprintf("isolated after %.1f splits on average, score %.3f above %.3f",
			m.forest.AveragePath(sample), s, threshold)
	} else {
		res.Reason = fmt.Sprintf("score %.3f within threshold %.3f", s, threshold)
	}
	return res
}
