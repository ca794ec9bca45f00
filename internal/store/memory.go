// internal/store/memory.go
//
// In-memory implementation of the session Store.
// Sessions hold a live timer and an engine, so they are never serialised;
// this store only keeps them reachable by ID for the lifetime of the process.
//
// Characteristics:
//   - Stores *session.Session objects keyed by ID in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Delete and Prune close the sessions they remove, stopping their timers.

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robalobadob/defuse/internal/session"
)

// ErrNotFound is returned by Get for unknown IDs.
var ErrNotFound = errors.New("not found")

// Store defines the lookup interface for live sessions.
type Store interface {
	// Save adds or replaces a session.
	Save(ctx context.Context, s *session.Session) error

	// Get retrieves a session by ID.
	// Returns ErrNotFound if the session is unknown.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Delete closes and removes a session. Unknown IDs are ignored.
	Delete(ctx context.Context, id string) error

	// Prune closes and removes sessions idle since before cutoff.
	// It returns the number of sessions removed.
	Prune(ctx context.Context, cutoff time.Time) int
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex                // guards sessions map
	sessions map[string]*session.Session // keyed by Session.ID
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{sessions: make(map[string]*session.Session)}
}

// Save adds or updates the session in the map.
// A replaced session with the same ID is closed.
func (m *memory) Save(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	old := m.sessions[s.ID]
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if old != nil && old != s {
		old.Close()
	}
	return nil
}

// Get looks up a session by ID.
func (m *memory) Get(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return nil
}

func (m *memory) Prune(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	var stale []*session.Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// RunJanitor prunes sessions idle longer than ttl every interval until ctx is done.
func RunJanitor(ctx context.Context, st Store, ttl, interval time.Duration, onPrune func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := st.Prune(ctx, now.Add(-ttl)); n > 0 && onPrune != nil {
				onPrune(n)
			}
		}
	}
}
