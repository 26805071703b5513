package detectors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

func TestClampScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{in: -5, want: 0},
		{in: 0, want: 0},
		{in: 42.5, want: 42.5},
		{in: 100, want: 100},
		{in: 250, want: 100},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampScore(tt.in), "ClampScore(%v)", tt.in)
	}
}

func TestRelativeScore(t *testing.T) {
	assert.Equal(t, 50.0, RelativeScore(1.5, 3))
	assert.Equal(t, 100.0, RelativeScore(3, 3))
	assert.Equal(t, 100.0, RelativeScore(30, 3))
	assert.Equal(t, 0.0, RelativeScore(1, 0))
}

func TestRank(t *testing.T) {
	assert.Less(t, Rank(NameIsolation), Rank(NameDensity))
	assert.Less(t, Rank(NameDensity), Rank(NameStatistical))
	assert.Less(t, Rank(NameStatistical), Rank(NameRules))
	assert.Equal(t, len(Priority), Rank("unknown"))
}

func TestAbstain(t *testing.T) {
	r := Abstain(NameStatistical, ReasonInsufficientHistory)
	assert.True(t, r.Abstained)
	assert.False(t, r.Anomaly)
	assert.Zero(t, r.Score)
	assert.Equal(t, ReasonInsufficientHistory, r.Reason)
}

func TestPopulationStandardize(t *testing.T) {
	vs := []*features.Vector{
		{TransactionID: "a", Value: 10, Hour: 12},
		{TransactionID: "b", Value: 20, Hour: 12},
		{TransactionID: "c", Value: 30, Hour: 12},
	}
	p := NewPopulation(vs)

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 1, p.IndexOf("b"))
	assert.Equal(t, -1, p.IndexOf("zzz"))
	assert.Equal(t, 10.0, p.Raw()[0][0])

	// Population std of 10,20,30 is sqrt(200/3).
	sd := math.Sqrt(200.0 / 3)
	assert.InDelta(t, -10/sd, p.Scaled()[0][0], 1e-9)
	assert.InDelta(t, 0, p.Scaled()[1][0], 1e-9)
	// Constant hour maps to zero.
	assert.Equal(t, 0.0, p.Scaled()[0][1])

	out := p.Standardize((&features.Vector{Value: 40, Hour: 3}).Values())
	assert.InDelta(t, 20/sd, out[0], 1e-9)
	assert.Equal(t, 0.0, out[1])
}

func TestNilPopulation(t *testing.T) {
	var p *Population
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, -1, p.IndexOf("a"))

	empty := NewPopulation(nil)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Scaled())
}

func TestModelFunc(t *testing.T) {
	m := ModelFunc(func(v *features.Vector) Result {
		return Result{Detector: NameRules, Reason: v.TransactionID}
	})
	assert.Equal(t, "x", m.Score(&features.Vector{TransactionID: "x"}).Reason)
}
