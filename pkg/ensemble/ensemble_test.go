package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
)

func flagged(name detectors.Name, score float64) detectors.Result {
	return detectors.Result{Detector: name, Anomaly: true, Score: score, Reason: "flagged"}
}

func normal(name detectors.Name, score float64) detectors.Result {
	return detectors.Result{Detector: name, Score: score, Reason: "normal"}
}

func abstained(name detectors.Name) detectors.Result {
	return detectors.Abstain(name, detectors.ReasonInsufficientPopulation)
}

func methodNames(v Verdict) []detectors.Name {
	out := make([]detectors.Name, len(v.DetectionMethods))
	for i, r := range v.DetectionMethods {
		out[i] = r.Detector
	}
	return out
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name         string
		results      []detectors.Result
		wantScore    int
		wantAnomaly  bool
		wantSeverity Severity
		wantType     string
		wantMethods  []detectors.Name
	}{
		{
			name: "nothing fires",
			results: []detectors.Result{
				normal(detectors.NameStatistical, 40),
				normal(detectors.NameDensity, 60),
				normal(detectors.NameIsolation, 90),
				normal(detectors.NameRules, 0),
			},
			wantScore:   0,
			wantMethods: []detectors.Name{},
		},
		{
			name: "single detector below threshold",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 100),
				normal(detectors.NameDensity, 10),
				normal(detectors.NameIsolation, 10),
				normal(detectors.NameRules, 0),
			},
			wantScore:   25,
			wantMethods: []detectors.Name{},
		},
		{
			name: "two detectors reach consensus",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 80),
				normal(detectors.NameDensity, 10),
				flagged(detectors.NameIsolation, 80),
				normal(detectors.NameRules, 0),
			},
			wantScore:    40,
			wantAnomaly:  true,
			wantSeverity: SeverityLow,
			wantType:     TypeMultiple,
			wantMethods:  []detectors.Name{detectors.NameIsolation, detectors.NameStatistical},
		},
		{
			name: "abstainers leave the denominator",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 100),
				abstained(detectors.NameDensity),
				abstained(detectors.NameIsolation),
				normal(detectors.NameRules, 0),
			},
			wantScore:    50,
			wantAnomaly:  true,
			wantSeverity: SeverityMedium,
			wantType:     string(detectors.NameStatistical),
			wantMethods:  []detectors.Name{detectors.NameStatistical},
		},
		{
			name: "everyone abstains",
			results: []detectors.Result{
				abstained(detectors.NameStatistical),
				abstained(detectors.NameDensity),
				abstained(detectors.NameIsolation),
				abstained(detectors.NameRules),
			},
			wantScore:   0,
			wantMethods: []detectors.Name{},
		},
		{
			name: "unanimous escalates to high",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 60),
				flagged(detectors.NameDensity, 60),
				flagged(detectors.NameIsolation, 60),
				flagged(detectors.NameRules, 60),
			},
			wantScore:    60,
			wantAnomaly:  true,
			wantSeverity: SeverityHigh,
			wantType:     TypeMultiple,
			wantMethods: []detectors.Name{
				detectors.NameIsolation, detectors.NameDensity, detectors.NameStatistical, detectors.NameRules,
			},
		},
		{
			name: "abstainers do not break unanimity",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 100),
				abstained(detectors.NameDensity),
				abstained(detectors.NameIsolation),
				flagged(detectors.NameRules, 50),
			},
			wantScore:    75,
			wantAnomaly:  true,
			wantSeverity: SeverityHigh,
			wantType:     TypeMultiple,
			wantMethods:  []detectors.Name{detectors.NameStatistical, detectors.NameRules},
		},
		{
			name: "night transfer far from home",
			results: []detectors.Result{
				flagged(detectors.NameStatistical, 100),
				flagged(detectors.NameDensity, 100),
				flagged(detectors.NameIsolation, 100),
				flagged(detectors.NameRules, 50),
			},
			wantScore:    88,
			wantAnomaly:  true,
			wantSeverity: SeverityHigh,
			wantType:     TypeMultiple,
			wantMethods: []detectors.Name{
				detectors.NameIsolation, detectors.NameDensity, detectors.NameStatistical, detectors.NameRules,
			},
		},
		{
			name: "lone voter flags alone",
			results: []detectors.Result{
				flagged(detectors.NameRules, 75),
				abstained(detectors.NameStatistical),
			},
			wantScore:    75,
			wantAnomaly:  true,
			wantSeverity: SeverityMedium,
			wantType:     string(detectors.NameRules),
			wantMethods:  []detectors.Name{detectors.NameRules},
		},
	}

	a, err := New()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := a.Combine(tt.results...)

			assert.Equal(t, tt.wantScore, v.AnomalyScore)
			assert.Equal(t, tt.wantAnomaly, v.IsAnomaly)
			assert.Equal(t, tt.wantSeverity, v.Severity)
			assert.Equal(t, tt.wantType, v.AnomalyType)
			assert.Equal(t, tt.wantMethods, methodNames(v))
			assert.Len(t, v.Results, len(tt.results))
		})
	}
}

func TestAggregateMatchesCombine(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	stat := flagged(detectors.NameStatistical, 90)
	dens := normal(detectors.NameDensity, 20)
	iso := flagged(detectors.NameIsolation, 70)
	rules := abstained(detectors.NameRules)

	got := a.Aggregate(stat, dens, iso, rules)
	want := a.Combine(stat, dens, iso, rules)
	assert.Equal(t, want, got)
	assert.Equal(t, 53, got.AnomalyScore)

	r, ok := got.Result(detectors.NameRules)
	require.True(t, ok)
	assert.True(t, r.Abstained)
	_, ok = got.Result("missing")
	assert.False(t, ok)
}

func TestCustomWeights(t *testing.T) {
	a, err := New(WithWeights(map[detectors.Name]float64{
		detectors.NameStatistical: 3,
		detectors.NameRules:       1,
	}))
	require.NoError(t, err)

	v := a.Combine(flagged(detectors.NameStatistical, 100), normal(detectors.NameRules, 0), flagged(detectors.NameIsolation, 100))
	// Isolation has no weight, so only z-score counts: 300 / 4.
	assert.Equal(t, 75, v.AnomalyScore)
	assert.True(t, v.IsAnomaly)
	assert.Equal(t, TypeMultiple, v.AnomalyType)
}

func TestScoreIsClamped(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	v := a.Combine(flagged(detectors.NameStatistical, 500), flagged(detectors.NameRules, -20))
	assert.Equal(t, 50, v.AnomalyScore)
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "all zero weights", mutate: func(c *Config) {
			c.Weights = map[detectors.Name]float64{detectors.NameRules: 0}
		}},
		{name: "negative weight", mutate: func(c *Config) {
			c.Weights = map[detectors.Name]float64{detectors.NameRules: -1, detectors.NameIsolation: 2}
		}},
		{name: "threshold above 100", mutate: func(c *Config) { c.Threshold = 101 }},
		{name: "medium above high", mutate: func(c *Config) { c.MediumCutoff = 90 }},
		{name: "zero consensus", mutate: func(c *Config) { c.MinConsensus = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(WithConfig(cfg))
			assert.ErrorIs(t, err, detectors.ErrInvalidConfiguration)
		})
	}
}
