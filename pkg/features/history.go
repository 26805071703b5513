package features

import (
	"math"
	"time"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Entry is one transaction as remembered by a UserHistory.
type Entry struct {
	TransactionID string             `json:"transaction_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Value         float64            `json:"value"`
	Location      *transaction.Point `json:"location,omitempty"`
}

// UserHistory is a rolling window over one user's past transactions, ordered
// by timestamp, with cached aggregates.
//
// The aggregates always describe exactly the entries currently in the window.
// Appending is O(1) amortized (Welford); evicting entries by age or count
// recomputes them from the remaining window.
//
// A UserHistory is not safe for concurrent use. Use Histories to hand out
// per-user ownership.
type UserHistory struct {
	userID     string
	maxEntries int
	maxAge     time.Duration

	entries []Entry

	// Welford accumulators.
	count int
	mean  float64
	m2    float64
}

// HistoryOption configures a UserHistory.
type HistoryOption func(*UserHistory)

// WithMaxEntries bounds the window to the n most recent transactions.
// n <= 0 disables the bound.
func WithMaxEntries(n int) HistoryOption {
	return func(h *UserHistory) {
		h.maxEntries = n
	}
}

// WithMaxAge drops entries older than d relative to the newest entry.
// d <= 0 disables the bound.
func WithMaxAge(d time.Duration) HistoryOption {
	return func(h *UserHistory) {
		h.maxAge = d
	}
}

// Default window bounds.
const (
	DefaultMaxEntries = 500
	DefaultMaxAge     = 90 * 24 * time.Hour
)

// NewUserHistory creates an empty history for userID.
func NewUserHistory(userID string, opts ...HistoryOption) *UserHistory {
	h := &UserHistory{
		userID:     userID,
		maxEntries: DefaultMaxEntries,
		maxAge:     DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// UserID returns the owner of the history.
func (h *UserHistory) UserID() string { return h.userID }

// Len returns the number of transactions in the window.
func (h *UserHistory) Len() int { return h.count }

// Mean returns the running mean of transaction values.
func (h *UserHistory) Mean() float64 { return h.mean }

// Std returns the running sample standard deviation of transaction values,
// or 0 with fewer than two entries.
func (h *UserHistory) Std() float64 {
	if h.count < 2 {
		return 0
	}
	v := h.m2 / float64(h.count-1)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Last returns the most recent entry.
func (h *UserHistory) Last() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// LastLocation returns the location of the most recent entry that has one.
func (h *UserHistory) LastLocation() (transaction.Point, time.Time, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Location != nil {
			return *h.entries[i].Location, h.entries[i].Timestamp, true
		}
	}
	return transaction.Point{}, time.Time{}, false
}

// CountSince returns how many entries have a timestamp at or after t.
func (h *UserHistory) CountSince(t time.Time) int {
	n := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Timestamp.Before(t) {
			break
		}
		n++
	}
	return n
}

// Entries returns a copy of the window, oldest first.
func (h *UserHistory) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Append adds an entry. Callers must keep timestamps non-decreasing; the
// Builder enforces that before appending.
func (h *UserHistory) Append(e Entry) {
	h.entries = append(h.entries, e)

	h.count++
	delta := e.Value - h.mean
	h.mean += delta / float64(h.count)
	h.m2 += delta * (e.Value - h.mean)

	if h.evict(e.Timestamp) {
		h.recompute()
	}
}

// evict drops entries outside the window and reports whether any were
// removed.
func (h *UserHistory) evict(now time.Time) bool {
	drop := 0
	if h.maxAge > 0 {
		cutoff := now.Add(-h.maxAge)
		for drop < len(h.entries) && h.entries[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if h.maxEntries > 0 && len(h.entries)-drop > h.maxEntries {
		drop = len(h.entries) - h.maxEntries
	}
	if drop == 0 {
		return false
	}
	h.entries = append(h.entries[:0:0], h.entries[drop:]...)
	return true
}

// asOf returns the window as seen at now: entries older than the maximum
// age relative to now are left out. h itself is returned when none are.
func (h *UserHistory) asOf(now time.Time) *UserHistory {
	if h.maxAge <= 0 || len(h.entries) == 0 || !h.entries[0].Timestamp.Before(now.Add(-h.maxAge)) {
		return h
	}
	view := *h
	view.entries = append([]Entry(nil), h.entries...)
	view.evict(now)
	view.recompute()
	return &view
}

func (h *UserHistory) recompute() {
	h.count, h.mean, h.m2 = 0, 0, 0
	for _, e := range h.entries {
		h.count++
		delta := e.Value - h.mean
		h.mean += delta / float64(h.count)
		h.m2 += delta * (e.Value - h.mean)
	}
}

// Snapshot is the serializable form of a UserHistory.
type Snapshot struct {
	UserID  string  `json:"user_id"`
	Entries []Entry `json:"entries"`
}

// Snapshot captures the window for an external history store.
func (h *UserHistory) Snapshot() Snapshot {
	return Snapshot{UserID: h.userID, Entries: h.Entries()}
}

// Restore rebuilds a history from a snapshot. Entries are replayed in order
// so window bounds from opts apply.
func Restore(s Snapshot, opts ...HistoryOption) *UserHistory {
	h := NewUserHistory(s.UserID, opts...)
	for _, e := range s.Entries {
		h.Append(e)
	}
	return h
}
