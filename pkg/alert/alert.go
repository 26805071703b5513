// Package alert turns anomalous verdicts into structured alerts and hands
// them to a Notifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/metrics"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// ErrNotAnomalous is returned when building an alert for a normal verdict.
var ErrNotAnomalous = errors.New("verdict is not anomalous")

// Alert describes one anomalous transaction.
type Alert struct {
	ID            string            `json:"alert_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Timestamp     time.Time         `json:"timestamp"`
	Severity      ensemble.Severity `json:"severity"`
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Value         decimal.Decimal   `json:"value"`
	AnomalyType   string            `json:"anomaly_type"`
	AnomalyScore  int               `json:"anomaly_score"`
	// Details maps every detector to whether it flagged the transaction.
	Details map[detectors.Name]Detail `json:"details"`
}

// Detail is one detector's contribution to an alert.
type Detail struct {
	Flagged   bool    `json:"flagged"`
	Abstained bool    `json:"abstained,omitempty"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// New builds the alert for tx. v must be anomalous and belong to tx.
func New(tx *transaction.Transaction, v *ensemble.Verdict) (*Alert, error) {
	if !v.IsAnomaly {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotAnomalous, v.TransactionID)
	}
	if tx.ID != v.TransactionID {
		return nil, fmt.Errorf("verdict %s does not belong to transaction %s", v.TransactionID, tx.ID)
	}

	details := make(map[detectors.Name]Detail, len(v.Results))
	for _, r := range v.Results {
		details[r.Detector] = Detail{
			Flagged:   r.Anomaly,
			Abstained: r.Abstained,
			Score:     r.Score,
			Reason:    r.Reason,
		}
	}

	return &Alert{
		ID:            ID(tx.ID),
		CreatedAt:     time.Now().UTC(),
		Timestamp:     tx.Timestamp,
		Severity:      v.Severity,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Value:         tx.Value,
		AnomalyType:   v.AnomalyType,
		AnomalyScore:  v.AnomalyScore,
		Details:       details,
	}, nil
}

// ID derives the alert id from the first eight characters of a transaction
// id.
func ID(transactionID string) string {
	short := []rune(transactionID)
	if len(short) > 8 {
		short = short[:8]
	}
	return "ALERT_" + string(short)
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a *Alert) error
}

// LogNotifier writes alerts to a zap logger. HIGH severity goes out at
// error level, everything else at warn.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger discards alerts.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("alert")}
}

var _ Notifier = (*LogNotifier)(nil)

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, a *Alert) error {
	if err := ctx.Err(); err != nil {
		metrics.AlertsSent.WithLabelValues(string(a.Severity), "cancelled").Inc()
		return err
	}

	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("transaction_id", a.TransactionID),
		zap.String("user_id", a.UserID),
		zap.String("value", a.Value.StringFixed(2)),
		zap.String("severity", string(a.Severity)),
		zap.String("anomaly_type", a.AnomalyType),
		zap.Int("anomaly_score", a.AnomalyScore),
		zap.Time("timestamp", a.Timestamp),
	}
	for name, d := range a.Details {
		if d.Flagged {
			fields = append(fields, zap.String(string(name), d.Reason))
		}
	}

	if a.Severity == ensemble.SeverityHigh {
		n.logger.Error("high severity anomaly", fields...)
	} else {
		n.logger.Warn("anomaly detected", fields...)
	}
	metrics.AlertsSent.WithLabelValues(string(a.Severity), "sent").Inc()
	return nil
}
