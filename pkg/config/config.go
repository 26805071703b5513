// Package config loads the fraudguard settings from defaults, an optional
// YAML file and FRAUDGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/iforest"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/lof"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/rules"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/zscore"
	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/logging"
)

// Config is the complete fraudguard configuration.
type Config struct {
	Features  FeaturesConfig
	ZScore    ZScoreConfig
	LOF       LOFConfig
	Isolation IsolationConfig
	Rules     RulesConfig
	Ensemble  EnsembleConfig
	Engine    EngineConfig
	Geo       GeoConfig
	Logging   logging.Config
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
}

// FeaturesConfig configures the feature builder and user history windows.
type FeaturesConfig struct {
	TimeZone          string
	NightStartHour    int
	NightEndHour      int
	VelocityWindow    time.Duration
	DeviationEpsilon  float64
	HistoryMaxEntries int
	HistoryMaxAge     time.Duration
}

// ZScoreConfig configures the statistical detector.
type ZScoreConfig struct {
	Threshold  float64
	MinHistory int
}

// LOFConfig configures the density detector.
type LOFConfig struct {
	Neighbors      int
	RatioThreshold float64
}

// IsolationConfig configures the isolation detector.
type IsolationConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	MinPopulation int
	Seed          int64
}

// RulesConfig configures the rule engine. Money values are decimal strings.
type RulesConfig struct {
	VelocityMaxCount int
	DefaultLimit     string
	NightLimit       string
	CategoryLimits   map[string]string
	MaxSpeedKmh      float64
	MinJumpKm        float64
}

// EnsembleConfig configures the aggregator.
type EnsembleConfig struct {
	Weights      map[string]float64
	Threshold    int
	HighCutoff   int
	MediumCutoff int
	MinConsensus int
}

// EngineConfig configures batch processing.
type EngineConfig struct {
	Workers int
}

// GeoConfig configures location resolution.
type GeoConfig struct {
	// GeoIPPath points at a MaxMind City database. Empty disables IP lookup.
	GeoIPPath string
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBatchSize    int
}

// PostgresConfig configures verdict persistence. Empty URL keeps verdicts
// in memory.
type PostgresConfig struct {
	URL string
}

// RedisConfig configures history snapshots. Empty Addr keeps histories in
// memory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	fc := features.DefaultConfig()
	zc := zscore.DefaultConfig()
	lc := lof.DefaultConfig()
	ic := iforest.DefaultConfig()
	rc := rules.DefaultConfig()
	ec := ensemble.DefaultConfig()

	weights := make(map[string]float64, len(ec.Weights))
	for name, w := range ec.Weights {
		weights[string(name)] = w
	}

	return &Config{
		Features: FeaturesConfig{
			TimeZone:          "UTC",
			NightStartHour:    fc.NightStartHour,
			NightEndHour:      fc.NightEndHour,
			VelocityWindow:    fc.VelocityWindow,
			DeviationEpsilon:  fc.DeviationEpsilon,
			HistoryMaxEntries: features.DefaultMaxEntries,
			HistoryMaxAge:     features.DefaultMaxAge,
		},
		ZScore: ZScoreConfig{
			Threshold:  zc.Threshold,
			MinHistory: zc.MinHistory,
		},
		LOF: LOFConfig{
			Neighbors:      lc.Neighbors,
			RatioThreshold: lc.RatioThreshold,
		},
		Isolation: IsolationConfig{
			Trees:         ic.Trees,
			SampleSize:    ic.SampleSize,
			Contamination: ic.Contamination,
			MinPopulation: ic.MinPopulation,
			Seed:          ic.Seed,
		},
		Rules: RulesConfig{
			VelocityMaxCount: rc.VelocityMaxCount,
			DefaultLimit:     rc.DefaultLimit.String(),
			NightLimit:       rc.NightLimit.String(),
			CategoryLimits:   map[string]string{},
			MaxSpeedKmh:      rc.MaxSpeedKmh,
			MinJumpKm:        rc.MinJumpKm,
		},
		Ensemble: EnsembleConfig{
			Weights:      weights,
			Threshold:    ec.Threshold,
			HighCutoff:   ec.HighCutoff,
			MediumCutoff: ec.MediumCutoff,
			MinConsensus: ec.MinConsensus,
		},
		Engine: EngineConfig{
			Workers: 8,
		},
		Logging: logging.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBatchSize:    10000,
		},
		Redis: RedisConfig{
			KeyPrefix: "fraudguard:history:",
			TTL:       90 * 24 * time.Hour,
		},
	}
}

// Validate checks every section and reports all problems at once, wrapped
// in detectors.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.FeaturesConfig(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}
	if c.Features.HistoryMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("features: history max entries must be >= 1, got %d", c.Features.HistoryMaxEntries))
	}
	if c.Features.HistoryMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("features: history max age must be positive, got %s", c.Features.HistoryMaxAge))
	}
	if err := c.ZScoreConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("zscore: %w", err))
	}
	if err := c.LOFConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lof: %w", err))
	}
	if err := c.IsolationConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("isolation: %w", err))
	}
	if rc, err := c.RulesConfig(); err != nil {
		errs = append(errs, fmt.Errorf("rules: %w", err))
	} else if err := rc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rules: %w", err))
	}
	if ec, err := c.EnsembleConfig(); err != nil {
		errs = append(errs, fmt.Errorf("ensemble: %w", err))
	} else if err := ec.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ensemble: %w", err))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine: workers must be >= 1, got %d", c.Engine.Workers))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Server.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("server: max batch size must be >= 1, got %d", c.Server.MaxBatchSize))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", detectors.ErrInvalidConfiguration, errors.Join(errs...))
}

// FeaturesConfig converts the features section.
func (c *Config) FeaturesConfig() (features.Config, error) {
	tz, err := time.LoadLocation(c.Features.TimeZone)
	if err != nil {
		return features.Config{}, fmt.Errorf("load time zone %q: %w", c.Features.TimeZone, err)
	}
	fc := features.Config{
		TimeZone:         tz,
		NightStartHour:   c.Features.NightStartHour,
		NightEndHour:     c.Features.NightEndHour,
		VelocityWindow:   c.Features.VelocityWindow,
		DeviationEpsilon: c.Features.DeviationEpsilon,
	}
	if err := fc.Validate(); err != nil {
		return features.Config{}, err
	}
	return fc, nil
}

// HistoryOptions returns the user history window options.
func (c *Config) HistoryOptions() []features.HistoryOption {
	return []features.HistoryOption{
		features.WithMaxEntries(c.Features.HistoryMaxEntries),
		features.WithMaxAge(c.Features.HistoryMaxAge),
	}
}

// ZScoreConfig converts the zscore section.
func (c *Config) ZScoreConfig() zscore.Config {
	return zscore.Config{
		Threshold:  c.ZScore.Threshold,
		MinHistory: c.ZScore.MinHistory,
	}
}

// LOFConfig converts the lof section.
func (c *Config) LOFConfig() lof.Config {
	return lof.Config{
		Neighbors:      c.LOF.Neighbors,
		RatioThreshold: c.LOF.RatioThreshold,
	}
}

// IsolationConfig converts the isolation section.
func (c *Config) IsolationConfig() iforest.Config {
	return iforest.Config{
		Trees:         c.Isolation.Trees,
		SampleSize:    c.Isolation.SampleSize,
		Contamination: c.Isolation.Contamination,
		MinPopulation: c.Isolation.MinPopulation,
		Seed:          c.Isolation.Seed,
	}
}

// RulesConfig converts the rules section, parsing the money values.
func (c *Config) RulesConfig() (rules.Config, error) {
	rc := rules.DefaultConfig()
	rc.VelocityMaxCount = c.Rules.VelocityMaxCount
	rc.MaxSpeedKmh = c.Rules.MaxSpeedKmh
	rc.MinJumpKm = c.Rules.MinJumpKm

	var err error
	if rc.DefaultLimit, err = decimal.NewFromString(c.Rules.DefaultLimit); err != nil {
		return rules.Config{}, fmt.Errorf("default limit %q: %w", c.Rules.DefaultLimit, err)
	}
	if rc.NightLimit, err = decimal.NewFromString(c.Rules.NightLimit); err != nil {
		return rules.Config{}, fmt.Errorf("night limit %q: %w", c.Rules.NightLimit, err)
	}
	rc.CategoryLimits = make(map[string]decimal.Decimal, len(c.Rules.CategoryLimits))
	for cat, s := range c.Rules.CategoryLimits {
		lim, err := decimal.NewFromString(s)
		if err != nil {
			return rules.Config{}, fmt.Errorf("limit for category %q: %w", cat, err)
		}
		rc.CategoryLimits[cat] = lim
	}
	return rc, nil
}

// EnsembleConfig converts the ensemble section. Weight keys must name a
// known detector.
func (c *Config) EnsembleConfig() (ensemble.Config, error) {
	weights := make(map[detectors.Name]float64, len(c.Ensemble.Weights))
	for key, w := range c.Ensemble.Weights {
		name := detectors.Name(key)
		if detectors.Rank(name) == len(detectors.Priority) {
			return ensemble.Config{}, fmt.Errorf("unknown detector %q in weights", key)
		}
		weights[name] = w
	}
	return ensemble.Config{
		Weights:      weights,
		Threshold:    c.Ensemble.Threshold,
		HighCutoff:   c.Ensemble.HighCutoff,
		MediumCutoff: c.Ensemble.MediumCutoff,
		MinConsensus: c.Ensemble.MinConsensus,
	}, nil
}
