// Package rules evaluates explicit business rules independently of the
// statistical models.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
)

// ID identifies a rule.
type ID string

const (
	RuleVelocity     ID = "VELOCITY"
	RuleValueCeiling ID = "VALUE_CEILING"
	RuleOddHours     ID = "ODD_HOURS"
	RuleGeoJump      ID = "GEO_JUMP"
)

// Violation is one rule that fired.
type Violation struct {
	Rule   ID      `json:"rule"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// Config holds the rule thresholds.
type Config struct {
	// VelocityMaxCount is the number of transactions allowed inside the
	// builder's velocity window, including the current one.
	VelocityMaxCount int
	// CategoryLimits caps the value per category. Keys match case-insensitively.
	CategoryLimits map[string]decimal.Decimal
	// DefaultLimit applies to categories without an explicit limit.
	DefaultLimit decimal.Decimal
	// NightLimit caps the value of night-time transactions.
	NightLimit decimal.Decimal
	// MaxSpeedKmh is the fastest plausible travel between two transactions.
	MaxSpeedKmh float64
	// MinJumpKm ignores jumps shorter than this regardless of elapsed time.
	MinJumpKm float64
	// Weights is the severity weight reported per rule.
	Weights map[ID]float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		VelocityMaxCount: 5,
		CategoryLimits:   map[string]decimal.Decimal{},
		DefaultLimit:     decimal.NewFromInt(10000),
		NightLimit:       decimal.NewFromInt(200),
		MaxSpeedKmh:      900,
		MinJumpKm:        100,
		Weights: map[ID]float64{
			RuleVelocity:     1,
			RuleValueCeiling: 1,
			RuleOddHours:     1,
			RuleGeoJump:      1,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VelocityMaxCount <= 0 {
		return fmt.Errorf("%w: velocity max count must be positive, got %d", detectors.ErrInvalidConfiguration, c.VelocityMaxCount)
	}
	if !c.DefaultLimit.IsPositive() {
		return fmt.Errorf("%w: default value limit must be positive, got %s", detectors.ErrInvalidConfiguration, c.DefaultLimit)
	}
	for cat, lim := range c.CategoryLimits {
		if !lim.IsPositive() {
			return fmt.Errorf("%w: value limit for category %q must be positive, got %s", detectors.ErrInvalidConfiguration, cat, lim)
		}
	}
	if !c.NightLimit.IsPositive() {
		return fmt.Errorf("%w: night limit must be positive, got %s", detectors.ErrInvalidConfiguration, c.NightLimit)
	}
	if !(c.MaxSpeedKmh > 0) || math.IsInf(c.MaxSpeedKmh, 0) {
		return fmt.Errorf("%w: max travel speed must be positive, got %v", detectors.ErrInvalidConfiguration, c.MaxSpeedKmh)
	}
	if c.MinJumpKm < 0 {
		return fmt.Errorf("%w: min jump distance must be >= 0, got %v", detectors.ErrInvalidConfiguration, c.MinJumpKm)
	}
	for id, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("%w: weight for rule %s must be >= 0, got %v", detectors.ErrInvalidConfiguration, id, w)
		}
	}
	return nil
}

// Engine is the rule engine.
type Engine struct {
	cfg   Config
	rules []rule
}

type rule struct {
	id    ID
	check func(v *features.Vector) (bool, string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithCategoryLimit caps the value for one category.
func WithCategoryLimit(category string, limit decimal.Decimal) Option {
	return func(e *Engine) {
		limits := make(map[string]decimal.Decimal, len(e.cfg.CategoryLimits)+1)
		for k, v := range e.cfg.CategoryLimits {
			limits[k] = v
		}
		limits[category] = limit
		e.cfg.CategoryLimits = limits
	}
}

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	limits := make(map[string]decimal.Decimal, len(e.cfg.CategoryLimits))
	for cat, lim := range e.cfg.CategoryLimits {
		limits[strings.ToLower(cat)] = lim
	}
	e.cfg.CategoryLimits = limits
	e.rules = []rule{
		{RuleVelocity, e.velocity},
		{RuleValueCeiling, e.valueCeiling},
		{RuleOddHours, e.oddHours},
		{RuleGeoJump, e.geoJump},
	}
	return e, nil
}

var _ detectors.Detector = (*Engine)(nil)

// Name implements detectors.Detector.
func (e *Engine) Name() detectors.Name { return detectors.NameRules }

// Fit implements detectors.Detector. Rules do not use the population.
func (e *Engine) Fit(*detectors.Population) (detectors.Model, error) {
	return detectors.ModelFunc(e.result), nil
}

// Score implements detectors.Detector.
func (e *Engine) Score(v *features.Vector, _ *detectors.Population) detectors.Result {
	return e.result(v)
}

// Evaluate runs every rule against v. All rules run; none short-circuits.
func (e *Engine) Evaluate(v *features.Vector) []Violation {
	var out []Violation
	for _, r := range e.rules {
		if fired, detail := r.check(v); fired {
			out = append(out, Violation{Rule: r.id, Weight: e.weight(r.id), Detail: detail})
		}
	}
	return out
}

// result folds violations into a detector result: score is the share of
// rules that fired.
func (e *Engine) result(v *features.Vector) detectors.Result {
	violations := e.Evaluate(v)
	if len(violations) == 0 {
		return detectors.Result{Detector: detectors.NameRules, Reason: "no rule violated"}
	}
	ids := make([]string, len(violations))
	for i, viol := range violations {
		ids[i] = string(viol.Rule)
	}
	return detectors.Result{
		Detector: detectors.NameRules,
		Anomaly:  true,
		Score:    detectors.ClampScore(100 * float64(len(violations)) / float64(len(e.rules))),
		Reason:   strings.Join(ids, ","),
	}
}

// Rules returns the rule ids in evaluation order.
func (e *Engine) Rules() []ID {
	ids := make([]ID, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.id
	}
	return ids
}

func (e *Engine) weight(id ID) float64 {
	if w, ok := e.cfg.Weights[id]; ok {
		return w
	}
	return 1
}

func (e *Engine) velocity(v *features.Vector) (bool, string) {
	n := v.TxInWindow + 1
	if n > e.cfg.VelocityMaxCount {
		return true, fmt.Sprintf("%d transactions in window, max %d", n, e.cfg.VelocityMaxCount)
	}
	return false, ""
}

func (e *Engine) limitFor(category string) decimal.Decimal {
	if lim, ok := e.cfg.CategoryLimits[strings.ToLower(category)]; ok {
		return lim
	}
	return e.cfg.DefaultLimit
}

func (e *Engine) valueCeiling(v *features.Vector) (bool, string) {
	lim := e.limitFor(v.Category)
	if v.Amount.GreaterThan(lim) {
		return true, fmt.Sprintf("value %s above %s limit %s", v.Amount.StringFixed(2), v.Category, lim.StringFixed(2))
	}
	return false, ""
}

func (e *Engine) oddHours(v *features.Vector) (bool, string) {
	if v.IsNight && v.Amount.GreaterThan(e.cfg.NightLimit) {
		return true, fmt.Sprintf("value %s at %02dh above night limit %s", v.Amount.StringFixed(2), v.Hour, e.cfg.NightLimit.StringFixed(2))
	}
	return false, ""
}

func (e *Engine) geoJump(v *features.Vector) (bool, string) {
	if !v.HasPriorLocation {
		return false, ""
	}
	reachable := math.Max(e.cfg.MinJumpKm, e.cfg.MaxSpeedKmh*v.GeoElapsedSeconds/3600)
	if v.GeoDistanceKm > reachable {
		return true, fmt.Sprintf("%.0f km in %.0f s, reachable %.0f km", v.GeoDistanceKm, v.GeoElapsedSeconds, reachable)
	}
	return false, ""
}
