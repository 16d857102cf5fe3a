// Package credential manages the pool of Gemini API keys used by the relay.
//
// Keys are loaded once at startup from a comma-delimited configuration value.
// When the downstream API rejects a key with an authorization error, the
// relay blocks it; a blocked key stays blocked for the life of the process.
package credential

import (
	"errors"
	"strings"
	"sync"
)

// ErrExhausted indicates that every key in the pool has been blocked.
// Callers must treat this as terminal for the current request; unlike a
// transient upstream failure there is nothing left to retry with.
var ErrExhausted = errors.New("no usable API key available")

// entry is a single API key and its usability flag.
type entry struct {
	secret  string
	blocked bool
}

// Pool holds the process-wide set of API keys.
// Safe for concurrent use by multiple goroutines.
type Pool struct {
	mu      sync.Mutex
	entries []entry
}

// Parse builds a Pool from a comma-delimited list of keys.
// Whitespace around each key is trimmed and empty items are skipped.
// No validation of key format is performed.
func Parse(raw string) *Pool {
	p := &Pool{}
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p.entries = append(p.entries, entry{secret: k})
	}
	return p
}

// Next returns the first key in original order that has not been blocked.
// Returns ErrExhausted when none remain.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if !e.blocked {
			return e.secret, nil
		}
	}
	return "", ErrExhausted
}

// Block permanently marks the given key unusable.
// Idempotent; unknown keys are ignored.
func (p *Pool) Block(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		if p.entries[i].secret == secret {
			p.entries[i].blocked = true
			return
		}
	}
}

// Remaining reports how many keys are still usable.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.entries {
		if !e.blocked {
			n++
		}
	}
	return n
}

// Size reports the total number of keys, blocked or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
