// Package store defines the persistence boundaries around the scoring
// engine: where verdicts are recorded and where user histories live between
// runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a record cannot be stored as given.
	ErrInvalidInput = errors.New("invalid input")
)

// Record is one scored transaction as persisted.
type Record struct {
	BatchID     string                  `json:"batch_id"`
	Transaction transaction.Transaction `json:"transaction"`
	Verdict     ensemble.Verdict        `json:"verdict"`
	ProcessedAt time.Time               `json:"processed_at"`
}

// Validate checks that the verdict belongs to the transaction.
func (r *Record) Validate() error {
	if r.Transaction.ID == "" || r.Transaction.ID != r.Verdict.TransactionID {
		return ErrInvalidInput
	}
	return nil
}

// VerdictStore persists scored transactions. Saving a transaction id that
// already exists replaces the earlier record.
type VerdictStore interface {
	// Save stores records atomically.
	Save(ctx context.Context, records []Record) error

	// Get returns the record for a transaction id, or ErrNotFound.
	Get(ctx context.Context, transactionID string) (*Record, error)

	// ListAnomalies returns anomalous records processed at or after since,
	// newest first, at most limit of them (limit <= 0 means no limit).
	ListAnomalies(ctx context.Context, since time.Time, limit int) ([]Record, error)
}

// HistoryStore keeps user history snapshots between runs.
type HistoryStore interface {
	// Load returns the snapshots that exist for userIDs. Missing users are
	// simply absent from the result.
	Load(ctx context.Context, userIDs []string) (map[string]features.Snapshot, error)

	// Save stores snapshots, replacing earlier ones.
	Save(ctx context.Context, snapshots []features.Snapshot) error
}
