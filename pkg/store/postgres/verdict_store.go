package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// VerdictStore implements store.VerdictStore using PostgreSQL.
type VerdictStore struct {
	pool *Pool
}

// NewVerdictStore creates a new VerdictStore.
func NewVerdictStore(pool *Pool) *VerdictStore {
	return &VerdictStore{pool: pool}
}

// Compile-time interface check.
var _ store.VerdictStore = (*VerdictStore)(nil)

const upsertProcessed = `
	INSERT INTO processed_transactions (
		transaction_id, batch_id, user_id, occurred_at, value, transaction_type,
		category, merchant, city, state, device, origin_account,
		destination_account, ip_address, is_anomaly, anomaly_score, severity,
		anomaly_type, verdict, processed_at
	) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	ON CONFLICT (transaction_id) DO UPDATE SET
		batch_id = EXCLUDED.batch_id,
		user_id = EXCLUDED.user_id,
		occurred_at = EXCLUDED.occurred_at,
		value = EXCLUDED.value,
		transaction_type = EXCLUDED.transaction_type,
		category = EXCLUDED.category,
		merchant = EXCLUDED.merchant,
		city = EXCLUDED.city,
		state = EXCLUDED.state,
		device = EXCLUDED.device,
		origin_account = EXCLUDED.origin_account,
		destination_account = EXCLUDED.destination_account,
		ip_address = EXCLUDED.ip_address,
		is_anomaly = EXCLUDED.is_anomaly,
		anomaly_score = EXCLUDED.anomaly_score,
		severity = EXCLUDED.severity,
		anomaly_type = EXCLUDED.anomaly_type,
		verdict = EXCLUDED.verdict,
		processed_at = EXCLUDED.processed_at
`

const upsertAnomaly = `
	INSERT INTO anomalies (
		transaction_id, severity, anomaly_type, anomaly_score, detection_methods, detected_at
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (transaction_id) DO UPDATE SET
		severity = EXCLUDED.severity,
		anomaly_type = EXCLUDED.anomaly_type,
		anomaly_score = EXCLUDED.anomaly_score,
		detection_methods = EXCLUDED.detection_methods,
		detected_at = EXCLUDED.detected_at
`

const selectColumns = `
	p.batch_id, p.transaction_id, p.user_id, p.occurred_at, p.value::text,
	p.transaction_type, p.category, p.merchant, p.city, p.state, p.device,
	p.origin_account, p.destination_account, p.ip_address, p.verdict,
	p.processed_at
`

// Save stores records in one transaction. Anomalous verdicts also get a
// row in anomalies; a record re-saved as normal loses its anomaly row.
func (s *VerdictStore) Save(ctx context.Context, records []store.Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	if len(records) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range records {
			if err := s.saveOne(ctx, tx, r); err != nil {
				return fmt.Errorf("save verdict %s: %w", r.Transaction.ID, err)
			}
		}
		return nil
	})
}

func (s *VerdictStore) saveOne(ctx context.Context, tx pgx.Tx, r store.Record) error {
	verdict, err := json.Marshal(r.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	processedAt := r.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	t := r.Transaction
	_, err = tx.Exec(ctx, upsertProcessed,
		t.ID,
		r.BatchID,
		t.UserID,
		t.Timestamp,
		t.Value.String(),
		string(t.Type),
		t.Category,
		t.Merchant,
		t.City,
		t.State,
		t.Device,
		t.OriginAccount,
		t.DestinationAccount,
		t.IPAddress,
		r.Verdict.IsAnomaly,
		r.Verdict.AnomalyScore,
		string(r.Verdict.Severity),
		r.Verdict.AnomalyType,
		verdict,
		processedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert processed transaction: %w", err)
	}

	if !r.Verdict.IsAnomaly {
		if _, err := tx.Exec(ctx, `DELETE FROM anomalies WHERE transaction_id = $1`, t.ID); err != nil {
			return fmt.Errorf("delete anomaly: %w", err)
		}
		return nil
	}

	methods := make([]string, len(r.Verdict.DetectionMethods))
	for i, m := range r.Verdict.DetectionMethods {
		methods[i] = string(m.Detector)
	}
	_, err = tx.Exec(ctx, upsertAnomaly,
		t.ID,
		string(r.Verdict.Severity),
		r.Verdict.AnomalyType,
		r.Verdict.AnomalyScore,
		methods,
		processedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert anomaly: %w", err)
	}
	return nil
}

// Get retrieves the record for a transaction. Returns ErrNotFound if absent.
func (s *VerdictStore) Get(ctx context.Context, transactionID string) (*store.Record, error) {
	query := `SELECT ` + selectColumns + `
		FROM processed_transactions p
		WHERE p.transaction_id = $1
	`

	r, err := scanRecord(s.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	return r, nil
}

// ListAnomalies returns anomalous records processed at or after since,
// newest first.
func (s *VerdictStore) ListAnomalies(ctx context.Context, since time.Time, limit int) ([]store.Record, error) {
	query := `SELECT ` + selectColumns + `
		FROM processed_transactions p
		JOIN anomalies a ON a.transaction_id = p.transaction_id
		WHERE p.processed_at >= $1
		ORDER BY p.processed_at DESC, p.transaction_id ASC
		LIMIT $2
	`

	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, since, lim)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*store.Record, error) {
	var (
		r       store.Record
		value   string
		txType  string
		verdict []byte
	)
	t := &r.Transaction
	err := row.Scan(
		&r.BatchID,
		&t.ID,
		&t.UserID,
		&t.Timestamp,
		&value,
		&txType,
		&t.Category,
		&t.Merchant,
		&t.City,
		&t.State,
		&t.Device,
		&t.OriginAccount,
		&t.DestinationAccount,
		&t.IPAddress,
		&verdict,
		&r.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse value %q: %w", value, err)
	}
	t.Type = transaction.Type(txType)

	var v ensemble.Verdict
	if err := json.Unmarshal(verdict, &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	r.Verdict = v
	return &r, nil
}
