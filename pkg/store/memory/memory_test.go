package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

var processed = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func record(id string, anomalous bool, at time.Time) store.Record {
	v := ensemble.Verdict{TransactionID: id, IsAnomaly: anomalous}
	if anomalous {
		v.AnomalyScore = 75
		v.Severity = ensemble.SeverityMedium
	}
	return store.Record{
		BatchID: "batch-1",
		Transaction: transaction.Transaction{
			ID:        id,
			UserID:    "USER_1001",
			Timestamp: at.Add(-time.Minute),
			Value:     decimal.NewFromInt(100),
			Type:      transaction.TypePIX,
			Category:  "Lazer",
		},
		Verdict:     v,
		ProcessedAt: at,
	}
}

func TestVerdictStoreSaveGet(t *testing.T) {
	ctx := context.Background()
	s := NewVerdictStore()

	require.NoError(t, s.Save(ctx, []store.Record{record("a", false, processed), record("b", true, processed)}))
	assert.Equal(t, 2, s.Len())

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, got.Verdict.IsAnomaly)
	assert.Equal(t, "batch-1", got.BatchID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Saving again replaces.
	require.NoError(t, s.Save(ctx, []store.Record{record("b", false, processed)}))
	got, err = s.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, got.Verdict.IsAnomaly)
	assert.Equal(t, 2, s.Len())
}

func TestVerdictStoreRejectsMismatchedRecord(t *testing.T) {
	s := NewVerdictStore()
	bad := record("a", true, processed)
	bad.Verdict.TransactionID = "b"

	err := s.Save(context.Background(), []store.Record{record("ok", false, processed), bad})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Zero(t, s.Len(), "a rejected batch stores nothing")
}

func TestListAnomalies(t *testing.T) {
	ctx := context.Background()
	s := NewVerdictStore()

	var recs []store.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, record(fmt.Sprintf("anomaly-%d", i), true, processed.Add(time.Duration(i)*time.Minute)))
	}
	recs = append(recs,
		record("normal", false, processed.Add(10*time.Minute)),
		record("tie-b", true, processed.Add(20*time.Minute)),
		record("tie-a", true, processed.Add(20*time.Minute)),
	)
	require.NoError(t, s.Save(ctx, recs))

	tests := []struct {
		name  string
		since time.Time
		limit int
		want  []string
	}{
		{name: "all", since: time.Time{}, limit: 0, want: []string{"tie-a", "tie-b", "anomaly-4", "anomaly-3", "anomaly-2", "anomaly-1", "anomaly-0"}},
		{name: "limited", since: time.Time{}, limit: 3, want: []string{"tie-a", "tie-b", "anomaly-4"}},
		{name: "since is inclusive", since: processed.Add(3 * time.Minute), limit: 0, want: []string{"tie-a", "tie-b", "anomaly-4", "anomaly-3"}},
		{name: "nothing after", since: processed.Add(time.Hour), limit: 10, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAnomalies(ctx, tt.since, tt.limit)
			require.NoError(t, err)
			var ids []string
			for _, r := range got {
				ids = append(ids, r.Transaction.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestHistoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewHistoryStore()

	snap := features.Snapshot{
		UserID: "u1",
		Entries: []features.Entry{
			{TransactionID: "a", Timestamp: processed, Value: 10},
			{TransactionID: "b", Timestamp: processed.Add(time.Hour), Value: 20},
		},
	}
	require.NoError(t, s.Save(ctx, []features.Snapshot{snap}))

	// The store keeps its own copy.
	snap.Entries[0].Value = 999

	got, err := s.Load(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got["u1"].Entries[0].Value)

	got["u1"].Entries[1].Value = -1
	again, err := s.Load(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, again["u1"].Entries[1].Value)
}
