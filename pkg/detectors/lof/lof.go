// Package lof implements a local-outlier-factor style density detector: a
// point whose neighbourhood is much sparser than its neighbours'
// neighbourhoods is anomalous.
package lof

import (
	"fmt"
	"math"
	"sort"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// maxRatio caps the density ratio when a neighbourhood collapses to a point.
const maxRatio = 1e6

// Config holds the detector settings.
type Config struct {
	// Neighbors is k, the neighbourhood size.
	Neighbors int
	// RatioThreshold is the density ratio above which a point is flagged.
	RatioThreshold float64
}

// DefaultConfig returns k=20 and a 1.5 ratio threshold.
func DefaultConfig() Config {
	return Config{
		Neighbors:      20,
		RatioThreshold: 1.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Neighbors <= 0 {
		return fmt.Errorf("%w: lof neighbor count must be positive, got %d", detectors.ErrInvalidConfiguration, c.Neighbors)
	}
	if !(c.RatioThreshold > 0) || math.IsInf(c.RatioThreshold, 0) {
		return fmt.Errorf("%w: lof ratio threshold must be positive, got %v", detectors.ErrInvalidConfiguration, c.RatioThreshold)
	}
	return nil
}

// Detector is the density detector.
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

// WithNeighbors sets k.
func WithNeighbors(k int) Option {
	return func(d *Detector) {
		d.cfg.Neighbors = k
	}
}

// WithRatioThreshold sets the flagging threshold.
func WithRatioThreshold(t float64) Option {
	return func(d *Detector) {
		d.cfg.RatioThreshold = t
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
func (d *Detector) Name() detectors.Name { return detectors.NameDensity }

// Score implements detectors.Detector.
func (d *Detector) Score(v *features.Vector, pop *detectors.Population) detectors.Result {
	m, err := d.Fit(pop)
	if err != nil {
		return detectors.Abstain(detectors.NameDensity, err.Error())
	}
	return m.Score(v)
}

// Fit precomputes every member's k nearest neighbours and average
// k-distance.
func (d *Detector) Fit(pop *detectors.Population) (detectors.Model, error) {
	m := &model{cfg: d.cfg, pop: pop}
	if pop.Len() < d.cfg.Neighbors {
		return m, nil
	}

	n := pop.Len()
	m.neighbors = make([][]int, n)
	m.avgDist = make([]float64, n)
	scaled := pop.Scaled()
	for i := range scaled {
		nbrs, avg := nearest(scaled, scaled[i], i, d.cfg.Neighbors)
		m.neighbors[i] = nbrs
		m.avgDist[i] = avg
	}
	m.fitted = true
	return m, nil
}

type model struct {
	cfg       Config
	pop       *detectors.Population
	fitted    bool
	neighbors [][]int
	avgDist   []float64
}

func (m *model) Score(v *features.Vector) detectors.Result {
	if v.InsufficientHistory {
		return detectors.Abstain(detectors.NameDensity, detectors.ReasonInsufficientHistory)
	}
	self := m.pop.IndexOf(v.TransactionID)
	peers := m.pop.Len()
	if self >= 0 {
		peers--
	}
	if !m.fitted || peers < m.cfg.Neighbors {
		return detectors.Abstain(detectors.NameDensity, detectors.ReasonInsufficientPopulation)
	}

	var nbrs []int
	var avg float64
	if self >= 0 {
		nbrs, avg = m.neighbors[self], m.avgDist[self]
	} else {
		nbrs, avg = nearest(m.pop.Scaled(), m.pop.Standardize(v.Values()), -1, m.cfg.Neighbors)
	}

	var nbrAvg float64
	for _, j := range nbrs {
		nbrAvg += m.avgDist[j]
	}
	nbrAvg /= float64(len(nbrs))

	ratio := densityRatio(avg, nbrAvg)
	res := detectors.Result{
		Detector: detectors.NameDensity,
		Anomaly:  ratio > m.cfg.RatioThreshold,
		Score:    detectors.RelativeScore(ratio, m.cfg.RatioThreshold),
	}
	if res.Anomaly {
		res.Reason = fmt.Sprintf("neighbourhood %.2fx sparser than neighbours' (threshold %.2f)", ratio, m.cfg.RatioThreshold)
	} else {
		res.Reason = fmt.Sprintf("density ratio %.2f within threshold %.2f", ratio, m.cfg.RatioThreshold)
	}
	return res
}

func densityRatio(own, neighbours float64) float64 {
	if neighbours == 0 {
		if own == 0 {
			return 1
		}
		return maxRatio
	}
	return math.Min(own/neighbours, maxRatio)
}

type neighbour struct {
	idx  int
	dist float64
}

// nearest returns the k points of data closest to x, skipping index skip,
// and their mean distance. Ties are broken by index.
func nearest(data [][]float64, x []float64, skip, k int) ([]int, float64) {
	cands := make([]neighbour, 0, len(data))
	for i, row := range data {
		if i == skip {
			continue
		}
		cands = append(cands, neighbour{idx: i, dist: euclidean(x, row)})
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})
	if k > len(cands) {
		k = len(cands)
	}

	idx := make([]int, k)
	var sum float64
	for i := 0; i < k; i++ {
		idx[i] = cands[i].idx
		sum += cands[i].dist
	}
	if k == 0 {
		return idx, 0
	}
	return idx, sum / float64(k)
}

func euclidean(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}
