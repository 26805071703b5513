package features

import "sync"

// Histories owns one UserHistory per user and serializes access to each.
// Different users can be worked on concurrently; the same user cannot.
type Histories struct {
	mu    sync.Mutex
	users map[string]*lockedHistory
	opts  []HistoryOption
}

type lockedHistory struct {
	mu sync.Mutex
	h  *UserHistory
}

// NewHistories creates an empty registry. opts apply to every history it
// creates.
func NewHistories(opts ...HistoryOption) *Histories {
	return &Histories{
		users: make(map[string]*lockedHistory),
		opts:  opts,
	}
}

func (r *Histories) entry(userID string) *lockedHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	lh, ok := r.users[userID]
	if !ok {
		lh = &lockedHistory{h: NewUserHistory(userID, r.opts...)}
		r.users[userID] = lh
	}
	return lh
}

// Acquire locks userID's history, creating it if needed. The caller must
// call release when done.
func (r *Histories) Acquire(userID string) (h *UserHistory, release func()) {
	lh := r.entry(userID)
	lh.mu.Lock()
	return lh.h, lh.mu.Unlock
}

// Has reports whether a history exists for userID.
func (r *Histories) Has(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// Restore installs a history rebuilt from s unless userID already has one.
// It reports whether s was installed.
func (r *Histories) Restore(s Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[s.UserID]; ok {
		return false
	}
	r.users[s.UserID] = &lockedHistory{h: Restore(s, r.opts...)}
	return true
}

// Snapshot copies the window of userID under its lock.
func (r *Histories) Snapshot(userID string) (Snapshot, bool) {
	if !r.Has(userID) {
		return Snapshot{}, false
	}
	h, release := r.Acquire(userID)
	defer release()
	return h.Snapshot(), true
}

// Options returns the window options used for new histories.
func (r *Histories) Options() []HistoryOption {
	return r.opts
}
