package detectors

import (
	"math"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// Population is the peer set a transaction is compared against. It keeps
// the raw feature matrix and a per-feature standardized copy (zero mean,
// unit variance) so that no single large-magnitude feature dominates
// distances.
type Population struct {
	vectors []*features.Vector
	raw     [][]float64
	scaled  [][]float64
	means   []float64
	stds    []float64
	index   map[string]int
}

// NewPopulation builds a population. The order of vs is preserved and is
// part of what makes seeded detectors reproducible.
func NewPopulation(vs []*features.Vector) *Population {
	p := &Population{
		vectors: vs,
		raw:     make([][]float64, len(vs)),
		index:   make(map[string]int, len(vs)),
	}
	for i, v := range vs {
		p.raw[i] = v.Values()
		p.index[v.TransactionID] = i
	}
	p.standardize()
	return p
}

func (p *Population) standardize() {
	n := len(p.raw)
	if n == 0 {
		return
	}
	dims := len(p.raw[0])
	p.means = make([]float64, dims)
	p.stds = make([]float64, dims)

	for _, row := range p.raw {
		for j, x := range row {
			p.means[j] += x
		}
	}
	for j := range p.means {
		p.means[j] /= float64(n)
	}
	for _, row := range p.raw {
		for j, x := range row {
			d := x - p.means[j]
			p.stds[j] += d * d
		}
	}
	for j := range p.stds {
		p.stds[j] = math.Sqrt(p.stds[j] / float64(n))
	}

	p.scaled = make([][]float64, n)
	for i, row := range p.raw {
		p.scaled[i] = p.Standardize(row)
	}
}

// Standardize scales a raw feature row with the population's statistics.
// Constant features map to 0.
func (p *Population) Standardize(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, x := range row {
		if j >= len(p.stds) || p.stds[j] == 0 {
			continue
		}
		out[j] = (x - p.means[j]) / p.stds[j]
	}
	return out
}

// Len returns the population size.
func (p *Population) Len() int {
	if p == nil {
		return 0
	}
	return len(p.vectors)
}

// Raw returns the unscaled feature matrix. Callers must not modify it.
func (p *Population) Raw() [][]float64 { return p.raw }

// Scaled returns the standardized feature matrix. Callers must not modify it.
func (p *Population) Scaled() [][]float64 { return p.scaled }

// IndexOf returns the position of the vector for transactionID, or -1 when
// the transaction is not a member.
func (p *Population) IndexOf(transactionID string) int {
	if p == nil {
		return -1
	}
	if i, ok := p.index[transactionID]; ok {
		return i
	}
	return -1
}

// Vectors returns the members. Callers must not modify the slice.
func (p *Population) Vectors() []*features.Vector { return p.vectors }
