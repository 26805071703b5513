// Package features turns transactions plus per-user history into feature
// vectors for the anomaly detectors.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ShinTechz/fraud-detection-system/pkg/geo"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Config holds the Feature Builder settings.
type Config struct {
	// TimeZone is used for the hour/day-of-week features.
	TimeZone *time.Location
	// NightStartHour and NightEndHour bound the night window, inclusive.
	NightStartHour int
	NightEndHour   int
	// VelocityWindow is the trailing window for TxInWindow.
	VelocityWindow time.Duration
	// DeviationEpsilon is the floor applied to the running std.
	DeviationEpsilon float64
}

// DefaultConfig returns the builder defaults.
func DefaultConfig() Config {
	return Config{
		TimeZone:         time.UTC,
		NightStartHour:   0,
		NightEndHour:     5,
		VelocityWindow:   time.Hour,
		DeviationEpsilon: 0.01,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.NightStartHour < 0 || c.NightStartHour > 23 {
		errs = append(errs, fmt.Errorf("night start hour %d outside [0,23]", c.NightStartHour))
	}
	if c.NightEndHour < 0 || c.NightEndHour > 23 {
		errs = append(errs, fmt.Errorf("night end hour %d outside [0,23]", c.NightEndHour))
	}
	if c.VelocityWindow <= 0 {
		errs = append(errs, fmt.Errorf("velocity window must be positive, got %s", c.VelocityWindow))
	}
	if !(c.DeviationEpsilon > 0) {
		errs = append(errs, fmt.Errorf("deviation epsilon must be positive, got %v", c.DeviationEpsilon))
	}
	return errors.Join(errs...)
}

// Builder derives feature vectors. It holds no per-user state; all history
// is passed in explicitly.
type Builder struct {
	cfg     Config
	locator geo.Locator
}

// Option configures a Builder.
type Option func(*Builder)

// WithConfig replaces the builder configuration.
func WithConfig(cfg Config) Option {
	return func(b *Builder) {
		b.cfg = cfg
	}
}

// WithLocator sets how transaction locations are resolved.
func WithLocator(l geo.Locator) Option {
	return func(b *Builder) {
		b.locator = l
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{
		cfg:     DefaultConfig(),
		locator: geo.DefaultLocator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.TimeZone == nil {
		b.cfg.TimeZone = time.UTC
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Build computes the feature vector for tx given the user's prior history.
// Entries older than the history's maximum age relative to tx are ignored.
// It does not modify h.
func (b *Builder) Build(tx *transaction.Transaction, h *UserHistory) (*Vector, error) {
	if h.UserID() != "" && h.UserID() != tx.UserID {
		return nil, fmt.Errorf("%w: transaction %s belongs to %s, history to %s",
			ErrUserMismatch, tx.ID, tx.UserID, h.UserID())
	}

	last, hasLast := h.Last()
	if hasLast && tx.Timestamp.Before(last.Timestamp) {
		return nil, &OutOfOrderError{TransactionID: tx.ID, Timestamp: tx.Timestamp, Latest: last.Timestamp}
	}
	h = h.asOf(tx.Timestamp)
	last, hasLast = h.Last()

	value := tx.Value.InexactFloat64()
	local := tx.Timestamp.In(b.cfg.TimeZone)
	hour := local.Hour()
	weekday := int(local.Weekday())

	v := &Vector{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Timestamp:     tx.Timestamp,
		Amount:        tx.Value,
		Value:         value,
		Type:          tx.Type,
		Category:      tx.Category,
		Device:        tx.Device,
		Hour:          hour,
		// Monday=0 .. Sunday=6.
		DayOfWeek: (weekday + 6) % 7,
		IsWeekend: weekday == int(time.Saturday) || weekday == int(time.Sunday),
		IsNight:   b.isNight(hour),
	}

	if !hasLast {
		v.InsufficientHistory = true
		return b.check(v)
	}

	v.UserTxCount = h.Len()
	v.RunningMean = h.Mean()
	v.RunningStd = h.Std()
	v.Deviation = (value - v.RunningMean) / math.Max(v.RunningStd, b.cfg.DeviationEpsilon)
	v.SecondsSinceLast = tx.Timestamp.Sub(last.Timestamp).Seconds()
	v.TxInWindow = h.CountSince(tx.Timestamp.Add(-b.cfg.VelocityWindow))

	if here, ok := b.locate(tx); ok {
		if prev, at, ok := h.LastLocation(); ok {
			v.HasPriorLocation = true
			v.GeoDistanceKm = geo.DistanceKm(prev, here)
			v.GeoElapsedSeconds = tx.Timestamp.Sub(at).Seconds()
		}
	}

	return b.check(v)
}

// Extract builds the vector and then appends tx to h.
func (b *Builder) Extract(tx *transaction.Transaction, h *UserHistory) (*Vector, error) {
	v, err := b.Build(tx, h)
	if err != nil {
		return nil, err
	}
	e := Entry{TransactionID: tx.ID, Timestamp: tx.Timestamp, Value: v.Value}
	if p, ok := b.locate(tx); ok {
		e.Location = &p
	}
	h.Append(e)
	return v, nil
}

func (b *Builder) locate(tx *transaction.Transaction) (transaction.Point, bool) {
	if b.locator == nil {
		return transaction.Point{}, false
	}
	return b.locator.Locate(tx)
}

func (b *Builder) isNight(hour int) bool {
	if b.cfg.NightStartHour <= b.cfg.NightEndHour {
		return hour >= b.cfg.NightStartHour && hour <= b.cfg.NightEndHour
	}
	// Window wraps midnight, e.g. 22..5.
	return hour >= b.cfg.NightStartHour || hour <= b.cfg.NightEndHour
}

func (b *Builder) check(v *Vector) (*Vector, error) {
	if !v.Finite() {
		return nil, fmt.Errorf("%w: transaction %s", ErrMalformedVector, v.TransactionID)
	}
	return v, nil
}
