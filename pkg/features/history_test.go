package features

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func entries(values ...float64) []Entry {
	out := make([]Entry, len(values))
	for i, v := range values {
		out[i] = Entry{
			TransactionID: string(rune('a' + i)),
			Timestamp:     t0.Add(time.Duration(i) * time.Hour),
			Value:         v,
		}
	}
	return out
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func TestUserHistoryAggregates(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		wantMean float64
	}{
		{name: "empty", values: nil, wantMean: 0},
		{name: "single", values: []float64{42}, wantMean: 42},
		{name: "several", values: []float64{90, 110, 95, 105, 88, 112}, wantMean: 100},
		{name: "constant", values: []float64{50, 50, 50}, wantMean: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewUserHistory("u1")
			for _, e := range entries(tt.values...) {
				h.Append(e)
			}
			assert.Equal(t, len(tt.values), h.Len())
			assert.InDelta(t, tt.wantMean, h.Mean(), 1e-9)
			assert.InDelta(t, sampleStd(tt.values), h.Std(), 1e-9)
		})
	}
}

func TestUserHistoryEvictsByCount(t *testing.T) {
	h := NewUserHistory("u1", WithMaxEntries(3))
	for _, e := range entries(1000, 10, 20, 30) {
		h.Append(e)
	}

	assert.Equal(t, 3, h.Len())
	assert.InDelta(t, 20, h.Mean(), 1e-9)
	assert.InDelta(t, 10, h.Std(), 1e-9)

	es := h.Entries()
	require.Len(t, es, 3)
	assert.Equal(t, 10.0, es[0].Value)
}

func TestUserHistoryEvictsByAge(t *testing.T) {
	h := NewUserHistory("u1", WithMaxAge(24*time.Hour))
	h.Append(Entry{TransactionID: "old", Timestamp: t0, Value: 5000})
	h.Append(Entry{TransactionID: "a", Timestamp: t0.Add(48 * time.Hour), Value: 100})
	h.Append(Entry{TransactionID: "b", Timestamp: t0.Add(49 * time.Hour), Value: 200})

	assert.Equal(t, 2, h.Len())
	assert.InDelta(t, 150, h.Mean(), 1e-9)
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.TransactionID)
}

func TestUserHistoryUnbounded(t *testing.T) {
	h := NewUserHistory("u1", WithMaxEntries(0), WithMaxAge(0))
	h.Append(Entry{TransactionID: "old", Timestamp: t0, Value: 1})
	h.Append(Entry{TransactionID: "new", Timestamp: t0.AddDate(5, 0, 0), Value: 3})
	assert.Equal(t, 2, h.Len())
}

func TestUserHistoryLastLocationAndCountSince(t *testing.T) {
	sp := transaction.Point{Lat: -23.55, Lon: -46.63}
	h := NewUserHistory("u1")

	_, _, ok := h.LastLocation()
	assert.False(t, ok)

	h.Append(Entry{TransactionID: "a", Timestamp: t0, Value: 1, Location: &sp})
	h.Append(Entry{TransactionID: "b", Timestamp: t0.Add(30 * time.Minute), Value: 2})
	h.Append(Entry{TransactionID: "c", Timestamp: t0.Add(50 * time.Minute), Value: 3})

	p, at, ok := h.LastLocation()
	require.True(t, ok)
	assert.Equal(t, sp, p)
	assert.Equal(t, t0, at)

	assert.Equal(t, 3, h.CountSince(t0))
	assert.Equal(t, 2, h.CountSince(t0.Add(time.Minute)))
	assert.Equal(t, 0, h.CountSince(t0.Add(time.Hour)))
}

func TestSnapshotRestore(t *testing.T) {
	h := NewUserHistory("u1")
	for _, e := range entries(90, 110, 95, 105) {
		h.Append(e)
	}

	s := h.Snapshot()
	assert.Equal(t, "u1", s.UserID)
	require.Len(t, s.Entries, 4)

	r := Restore(s)
	assert.Equal(t, h.Len(), r.Len())
	assert.InDelta(t, h.Mean(), r.Mean(), 1e-9)
	assert.InDelta(t, h.Std(), r.Std(), 1e-9)

	// Window bounds apply on restore.
	small := Restore(s, WithMaxEntries(2))
	assert.Equal(t, 2, small.Len())
	assert.InDelta(t, 100, small.Mean(), 1e-9)

	// The snapshot is a copy.
	s.Entries[0].Value = 1e9
	assert.InDelta(t, 100, h.Mean(), 1e-9)
}

func TestHistoriesRestoreDoesNotOverwrite(t *testing.T) {
	r := NewHistories()

	assert.True(t, r.Restore(Snapshot{UserID: "u1", Entries: entries(10, 20)}))
	assert.False(t, r.Restore(Snapshot{UserID: "u1", Entries: entries(1000)}))

	s, ok := r.Snapshot("u1")
	require.True(t, ok)
	assert.Len(t, s.Entries, 2)

	_, ok = r.Snapshot("nobody")
	assert.False(t, ok)
	assert.False(t, r.Has("nobody"))
}

func TestHistoriesAcquireSerializesUser(t *testing.T) {
	r := NewHistories(WithMaxEntries(0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, release := r.Acquire("u1")
			defer release()
			h.Append(Entry{TransactionID: "x", Timestamp: t0, Value: float64(i)})
		}(i)
	}
	wg.Wait()

	h, release := r.Acquire("u1")
	defer release()
	assert.Equal(t, 50, h.Len())
	assert.InDelta(t, 24.5, h.Mean(), 1e-9)
}
