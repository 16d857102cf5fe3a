// Package session provides the in-memory session table backing tide's
// authentication.
//
// Sessions live only in process memory: the design assumes a single instance,
// and a restart logs everyone out. Validity uses a sliding window: every
// successful Lookup pushes the expiry out by the full TTL. Expired records
// are removed lazily at lookup time and by a periodic Sweep so the table
// cannot grow without bound from abandoned sessions.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tidechat/tide/internal/log"
)

const (
	// TTL is the sliding session lifetime. Each authenticated use resets
	// the window to the full duration.
	TTL = 24 * time.Hour

	// SweepInterval is how often the background sweep removes expired
	// sessions independent of request traffic.
	SweepInterval = time.Hour
)

// Identity is the authenticated principal attached to a session.
type Identity struct {
	UserID    string
	Username  string
	Developer bool
}

// Record is a live session entry. Owned exclusively by the Store; callers
// receive copies and never mutate stored state directly.
type Record struct {
	Identity
	Token     string
	ExpiresAt time.Time
}

// Store maps opaque tokens to session records.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	logger  log.Logger

	// now is swappable in tests to drive expiry without sleeping.
	now func() time.Time
}

// New creates an empty session store.
func New(logger log.Logger) *Store {
	return &Store{
		records: make(map[string]Record),
		logger:  logger,
		now:     time.Now,
	}
}

// Create generates a fresh token for the given identity and stores a record
// expiring TTL from now. The token combines 16 random bytes with a millisecond
// timestamp; it is an opaque handle, not a signed credential.
func (s *Store) Create(id Identity) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	token := fmt.Sprintf("%s-%d", hex.EncodeToString(buf[:]), s.now().UnixMilli())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[token] = Record{
		Identity:  id,
		Token:     token,
		ExpiresAt: s.now().Add(TTL),
	}
	return token
}

// Lookup resolves a token to its record. A missing token yields ok=false.
// An expired record is deleted on the spot and also yields ok=false (lazy
// expiry). A valid record has its expiry extended to now+TTL before being
// returned (sliding expiration).
func (s *Store) Lookup(token string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return Record{}, false
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.records, token)
		return Record{}, false
	}

	rec.ExpiresAt = s.now().Add(TTL)
	s.records[token] = rec
	return rec, true
}

// Invalidate deletes the record for token. No-op if absent.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
}

// FindByUsername returns the first live session belonging to username.
// Used by the memory-fallback auth path when no database is configured.
// Expired records are skipped but not removed; Sweep handles those.
func (s *Store) FindByUsername(username string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Username == username && rec.ExpiresAt.After(s.now()) {
			return rec, true
		}
	}
	return Record{}, false
}

// Count returns the number of records currently held, including any that
// have expired but not yet been swept.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep removes every record whose expiry has passed and returns the number
// removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, token)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions on SweepInterval until ctx is canceled.
// Intended to be started once as a background goroutine at startup.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("swept expired sessions", "removed", n, "remaining", s.Count())
			}
		}
	}
}
