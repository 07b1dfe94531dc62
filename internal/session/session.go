package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbetel/invochat/internal/index"
	"github.com/mbetel/invochat/internal/invoice"
)

// Session is one ephemeral chat context: a batch of extracted invoices, the
// vector index built over them, and the owner it is bound to. The index and
// record list are immutable after creation; only the activity timestamp
// changes, and it changes atomically so concurrent chat turns need no lock.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	Index     *index.Index
	Records   []invoice.Record
	Warnings  []string // data-quality issues found at creation

	lastActivity atomic.Int64 // unix nanoseconds
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the most recent successful activity.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// ExpiresIn returns how long the session stays alive without further
// activity. Zero or negative means it is already eligible for eviction.
func (s *Session) ExpiresIn(ttl time.Duration, now time.Time) time.Duration {
	return s.LastActivity().Add(ttl).Sub(now)
}

// Store holds live sessions keyed by id. It is the only shared mutable
// structure between sessions; the mutex guards the map itself, never the
// sessions' read paths.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session for id, if present.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Put publishes a fully built session.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Delete removes a session, reporting whether it was present.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// expired collects ids of sessions idle longer than ttl. Collection runs
// under the read lock; eviction happens separately so in-flight queries on
// other sessions are never blocked.
func (st *Store) expired(ttl time.Duration, now time.Time) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var ids []string
	for id, s := range st.sessions {
		if now.Sub(s.LastActivity()) > ttl {
			ids = append(ids, id)
		}
	}
	return ids
}
