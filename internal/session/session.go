// Package session caches per-session design context between convergence
// runs. Every store is a cache: a miss is a normal result, never an error.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 24 * time.Hour

// ErrEmptyID is returned when a store is called without a session ID.
var ErrEmptyID = errors.New("session: empty session id")

// Context is what the service layer remembers about a design session.
type Context struct {
	Requirements  string           `json:"requirements,omitempty"`
	Architecture  string           `json:"architecture,omitempty"`
	Findings      []string         `json:"findings,omitempty"`
	LastConverged *circuit.Circuit `json:"lastConverged,omitempty"`
	LastSource    string           `json:"lastSource,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Store reads and writes session context by opaque session ID.
type Store interface {
	// Get returns the context and whether it was found.
	Get(ctx context.Context, id string) (*Context, bool, error)
	Put(ctx context.Context, id string, c Context) error
	Close() error
}

// RecordConverged merges a converged design into the session's context,
// keeping whatever else was stored for id.
func RecordConverged(ctx context.Context, s Store, id string, c *circuit.Circuit, source string, findings []string) error {
	prior, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	var next Context
	if ok {
		next = *prior
	}
	next.LastConverged = c
	next.LastSource = source
	next.Findings = append([]string(nil), findings...)
	return s.Put(ctx, id, next)
}

// Compile-time interface checks.
var (
	_ Store = (*MemStore)(nil)
	_ Store = (*BadgerStore)(nil)
)

// MemStore is an in-process Store whose entries expire after TTL.
type MemStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Context
}

// NewMemStore creates a MemStore. A non-positive ttl selects DefaultTTL.
func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemStore{ttl: ttl, now: time.Now, entries: make(map[string]Context)}
}

func (m *MemStore) Get(ctx context.Context, id string) (*Context, bool, error) {
	if id == "" {
		return nil, false, ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	c, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	c.Findings = append([]string(nil), c.Findings...)
	return &c, true, nil
}

func (m *MemStore) Put(ctx context.Context, id string, c Context) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = m.now()
	c.Findings = append([]string(nil), c.Findings...)
	m.entries[id] = c
	m.prune()
	return nil
}

// Len returns the number of live entries.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	return len(m.entries)
}

func (m *MemStore) Close() error { return nil }

// prune drops expired entries. Callers hold mu.
func (m *MemStore) prune() {
	cutoff := m.now().Add(-m.ttl)
	for id, c := range m.entries {
		if c.UpdatedAt.Before(cutoff) {
			delete(m.entries, id)
		}
	}
}
