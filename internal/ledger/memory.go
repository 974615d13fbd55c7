// Package ledger provides the in-process fingerprint reservation table and a
// committed-entry cache that can front any ports.Ledger backend.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

type entryState int

const (
	stateReserved entryState = iota + 1
	stateCommitted
)

type entry struct {
	state   entryState
	token   string
	expires time.Time
}

// Memory is a mutex-guarded reservation table for single-process deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[domain.Fingerprint]entry
	ttl     time.Duration
	now     func() time.Time
}

var _ ports.Ledger = (*Memory)(nil)

// NewMemory builds an empty ledger. A non-positive ttl keeps reservations until released.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: map[domain.Fingerprint]entry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen reports whether the fingerprint is committed or holds a live reservation.
func (m *Memory) Seen(_ context.Context, fp domain.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fp]
	return ok && m.live(e), nil
}

// Reserve claims the fingerprint. Only one caller wins until the reservation is released or expires.
func (m *Memory) Reserve(_ context.Context, fp domain.Fingerprint) (ports.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[fp]; ok && m.live(e) {
		return ports.Reservation{Result: ports.MarkAlreadyMarked}, nil
	}

	e := entry{state: stateReserved, token: uuid.NewString()}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[fp] = e
	return ports.Reservation{Result: ports.MarkOK, Token: e.token}, nil
}

// Release drops a reservation held under token. Committed entries are never removed.
func (m *Memory) Release(_ context.Context, fp domain.Fingerprint, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[fp]; ok && e.state == stateReserved && e.token == token {
		delete(m.entries, fp)
	}
	return nil
}

// Commit turns the fingerprint into a permanent entry.
func (m *Memory) Commit(_ context.Context, fp domain.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[fp] = entry{state: stateCommitted}
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if m.live(e) {
			n++
		}
	}
	return n
}

func (m *Memory) live(e entry) bool {
	if e.state == stateCommitted {
		return true
	}
	return e.expires.IsZero() || m.now().Before(e.expires)
}
