// Package memory provides in-process implementations of the store
// interfaces, used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
)

// VerdictStore is an in-memory store.VerdictStore.
type VerdictStore struct {
	mu      sync.RWMutex
	records map[string]store.Record
}

// NewVerdictStore creates an empty VerdictStore.
func NewVerdictStore() *VerdictStore {
	return &VerdictStore{records: make(map[string]store.Record)}
}

// Compile-time interface check.
var _ store.VerdictStore = (*VerdictStore)(nil)

// Save implements store.VerdictStore.
func (s *VerdictStore) Save(_ context.Context, records []store.Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.Transaction.ID] = r
	}
	return nil
}

// Get implements store.VerdictStore.
func (s *VerdictStore) Get(_ context.Context, transactionID string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

// ListAnomalies implements store.VerdictStore.
func (s *VerdictStore) ListAnomalies(_ context.Context, since time.Time, limit int) ([]store.Record, error) {
	s.mu.RLock()
	var out []store.Record
	for _, r := range s.records {
		if r.Verdict.IsAnomaly && !r.ProcessedAt.Before(since) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.After(out[j].ProcessedAt)
		}
		return out[i].Transaction.ID < out[j].Transaction.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *VerdictStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// HistoryStore is an in-memory store.HistoryStore.
type HistoryStore struct {
	mu    sync.RWMutex
	snaps map[string]features.Snapshot
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{snaps: make(map[string]features.Snapshot)}
}

// Compile-time interface check.
var _ store.HistoryStore = (*HistoryStore)(nil)

// Load implements store.HistoryStore.
func (s *HistoryStore) Load(_ context.Context, userIDs []string) (map[string]features.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]features.Snapshot, len(userIDs))
	for _, id := range userIDs {
		if snap, ok := s.snaps[id]; ok {
			out[id] = copySnapshot(snap)
		}
	}
	return out, nil
}

// Save implements store.HistoryStore.
func (s *HistoryStore) Save(_ context.Context, snapshots []features.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		s.snaps[snap.UserID] = copySnapshot(snap)
	}
	return nil
}

func copySnapshot(s features.Snapshot) features.Snapshot {
	entries := make([]features.Entry, len(s.Entries))
	copy(entries, s.Entries)
	return features.Snapshot{UserID: s.UserID, Entries: entries}
}
