package auth

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultTrackerThreshold = 5
	defaultTrackerLockout   = time.Minute
	defaultTrackerCap       = 10000
)

// AttemptRecord is a snapshot of the failures recorded for one identifier.
type AttemptRecord struct {
	Identifier  string
	Count       int
	LockedUntil time.Time
	LastFailure time.Time
}

type attemptEntry struct {
	AttemptRecord
	seq uint64
}

// AttemptTracker counts failed logins per identifier (client IP or username)
// and locks an identifier out once it reaches the threshold. State is process
// local; every instance of a scaled deployment keeps its own counters.
//
// Every exported method runs in a single critical section, so concurrent
// failures for the same identifier are never lost.
type AttemptTracker struct {
	mu        sync.Mutex
	threshold int
	lockout   time.Duration
	cap       int
	now       func() time.Time
	seq       uint64
	entries   map[string]*attemptEntry
}

func NewAttemptTracker(threshold int, lockout time.Duration, capacity int) *AttemptTracker {
	if threshold <= 0 {
		threshold = defaultTrackerThreshold
	}
	if lockout <= 0 {
		lockout = defaultTrackerLockout
	}
	if capacity <= 0 {
		capacity = defaultTrackerCap
	}

	return &AttemptTracker{
		threshold: threshold,
		lockout:   lockout,
		cap:       capacity,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]*attemptEntry),
	}
}

func (t *AttemptTracker) WithClock(now func() time.Time) *AttemptTracker {
	if now != nil {
		t.mu.Lock()
		t.now = now
		t.mu.Unlock()
	}
	return t
}

// CheckLocked runs a cleanup pass and reports whether identifier is locked,
// together with the instant the lock ends.
func (t *AttemptTracker) CheckLocked(identifier string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The pass removes identifier too when its lock has run out.
	t.cleanupLocked(t.now())

	entry, ok := t.entries[identifier]
	if !ok || entry.LockedUntil.IsZero() {
		return time.Time{}, false
	}
	return entry.LockedUntil, true
}

// RecordFailure counts one failed attempt and reports whether identifier is
// locked afterwards. Failures during an active lock do not extend it.
func (t *AttemptTracker) RecordFailure(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[identifier]
	if ok && !entry.LockedUntil.IsZero() {
		if entry.LockedUntil.After(now) {
			return true
		}
		delete(t.entries, identifier)
		ok = false
	}
	if !ok {
		t.seq++
		entry = &attemptEntry{AttemptRecord: AttemptRecord{Identifier: identifier}, seq: t.seq}
		t.entries[identifier] = entry
	}

	entry.Count++
	entry.LastFailure = now
	if entry.Count >= t.threshold {
		entry.LockedUntil = now.Add(t.lockout)
	}
	locked := !entry.LockedUntil.IsZero()

	if len(t.entries) > t.cap {
		t.cleanupLocked(now)
	}

	return locked
}

// Clear forgets identifier and reports whether a record existed. Successful
// logins do not call it; records only leave through expiry, eviction or an
// operator unlock.
func (t *AttemptTracker) Clear(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[identifier]
	delete(t.entries, identifier)
	return ok
}

// Sweep runs the cleanup pass and returns how many records it removed.
func (t *AttemptTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanupLocked(t.now())
}

func (t *AttemptTracker) remaining(until time.Time) time.Duration {
	t.mu.Lock()
	now := t.now()
	t.mu.Unlock()
	return until.Sub(now)
}

func (t *AttemptTracker) Lookup(identifier string) (AttemptRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[identifier]
	if !ok {
		return AttemptRecord{}, false
	}
	return entry.AttemptRecord, true
}

func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// cleanupLocked drops expired locks, then evicts down to the cap: unlocked
// records first, least recently failed first (insertion order on ties), then
// locked records whose lock ends soonest. Callers hold t.mu.
func (t *AttemptTracker) cleanupLocked(now time.Time) int {
	removed := 0
	for id, entry := range t.entries {
		if !entry.LockedUntil.IsZero() && !entry.LockedUntil.After(now) {
			delete(t.entries, id)
			removed++
		}
	}

	excess := len(t.entries) - t.cap
	if excess <= 0 {
		return removed
	}

	candidates := make([]*attemptEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aLocked, bLocked := !a.LockedUntil.IsZero(), !b.LockedUntil.IsZero()
		if aLocked != bLocked {
			return !aLocked
		}
		if aLocked && !a.LockedUntil.Equal(b.LockedUntil) {
			return a.LockedUntil.Before(b.LockedUntil)
		}
		if !aLocked && !a.LastFailure.Equal(b.LastFailure) {
			return a.LastFailure.Before(b.LastFailure)
		}
		return a.seq < b.seq
	})

	for _, entry := range candidates[:excess] {
		delete(t.entries, entry.Identifier)
		removed++
	}

	return removed
}
