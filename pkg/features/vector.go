package features

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Vector is the fixed-shape feature set derived from one transaction and the
// state of its user's history just before it.
type Vector struct {
	TransactionID string
	UserID        string
	Timestamp     time.Time
	Amount        decimal.Decimal
	Value         float64
	Type          transaction.Type
	Category      string
	Device        string

	// Temporal.
	Hour      int
	DayOfWeek int
	IsWeekend bool
	IsNight   bool

	// Behavioural, computed from prior transactions only.
	UserTxCount int
	RunningMean float64
	RunningStd  float64
	Deviation   float64

	// Velocity.
	SecondsSinceLast float64
	TxInWindow       int

	// Geographic jump from the previous known location.
	HasPriorLocation  bool
	GeoDistanceKm     float64
	GeoElapsedSeconds float64

	// InsufficientHistory is set for a user's first-ever transaction.
	InsufficientHistory bool
}

// FeatureNames returns the names of the columns produced by Values, in order.
func FeatureNames() []string {
	return []string{
		"value",
		"hour",
		"day_of_week",
		"is_weekend",
		"is_night",
		"user_tx_count",
		"running_mean",
		"running_std",
		"deviation_from_avg",
		"seconds_since_last",
		"tx_in_window",
		"geo_distance_km",
		"type_code",
		"category_code",
		"device_code",
	}
}

// Values flattens the numeric features for the population-relative
// detectors.
func (v *Vector) Values() []float64 {
	return []float64{
		v.Value,
		float64(v.Hour),
		float64(v.DayOfWeek),
		boolFloat(v.IsWeekend),
		boolFloat(v.IsNight),
		float64(v.UserTxCount),
		v.RunningMean,
		v.RunningStd,
		v.Deviation,
		v.SecondsSinceLast,
		float64(v.TxInWindow),
		v.GeoDistanceKm,
		float64(v.Type.Code()),
		float64(transaction.CategoryCode(v.Category)),
		float64(transaction.DeviceCode(v.Device)),
	}
}

// Finite reports whether every numeric feature is finite.
func (v *Vector) Finite() bool {
	for _, x := range v.Values() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
