// Package reputation tracks per-client attempt history and escalates
// repeat offenders toward temporary and permanent bans.
package reputation

import (
	"sync"
	"time"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/telemetry"
)

// Escalation thresholds. warningLevel is recomputed on every attempt from
// the bad-attempt counter plus a deceleration penalty.
const (
	permanentBanLevel = 8
	temporaryBanLevel = 4
	// Deceleration below this reads as "never really slowed down before
	// the click" and adds one warning point.
	decelPenaltyBelow = 0.2

	TempBanDuration = 10 * time.Minute
)

// Record is one client's accumulated history. Owned exclusively by the
// Store; callers only ever see copies.
type Record struct {
	FirstSeen        time.Time
	LastSeen         time.Time
	TotalAttempts    int
	BadAttempts      int
	WarningLevel     int
	IsBanned         bool
	BannedUntil      time.Time
	LastBehaviorType telemetry.Verdict
}

// bannedAt reports whether the record is under an active ban. A permanent
// ban never lifts; a temporary ban lapses once now passes BannedUntil, but
// the counters that produced it are never rolled back.
func (r *Record) bannedAt(now time.Time) bool {
	if r.IsBanned {
		return true
	}
	return !r.BannedUntil.IsZero() && now.Before(r.BannedUntil)
}

// Store is an in-memory keyed reputation table guarded by a single lock.
// State lives for the process lifetime only: a restart resets all ban
// state. In a multi-instance deployment each process holds its own view.
//
// Note: consider an eviction policy if the client-id cardinality is
// unbounded in a given deployment.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty reputation store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Status reports whether the client is currently banned, without mutating
// any counters. Unknown clients are never banned.
func (s *Store) Status(clientID string, now time.Time) (banned bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[clientID]
	return ok && r.bannedAt(now)
}

// Get returns a copy of the client's record, if one exists.
func (s *Store) Get(clientID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[clientID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Len returns the number of tracked clients.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RecordAttempt folds one classified attempt into the client's record and
// returns the outcome the caller should enforce: the behavior type
// unchanged, or "banned" once an escalation threshold is crossed.
//
// The whole read-modify-write runs under the write lock, so concurrent
// attempts from one client serialize and a threshold crossing is never
// lost between them.
func (s *Store) RecordAttempt(clientID string, behavior telemetry.Verdict, decelerationRate float64, now time.Time) telemetry.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[clientID]
	if !ok {
		r = &Record{FirstSeen: now}
		s.records[clientID] = r
	}

	// An active ban short-circuits before any counter mutation. Clock
	// skew is treated permissively: an earlier now never un-bans.
	if r.bannedAt(now) {
		return telemetry.VerdictBanned
	}

	r.TotalAttempts++
	r.LastSeen = now
	r.LastBehaviorType = behavior
	if behavior.Bad() {
		r.BadAttempts++
	}

	level := r.BadAttempts * 2
	if decelerationRate < decelPenaltyBelow {
		level++
	}
	r.WarningLevel = level

	switch {
	case level >= permanentBanLevel:
		r.IsBanned = true
		return telemetry.VerdictBanned
	case level >= temporaryBanLevel:
		r.BannedUntil = now.Add(TempBanDuration)
		return telemetry.VerdictBanned
	}
	return behavior
}
