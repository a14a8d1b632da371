// Package viewstate holds the per-visitor catalog that pages render and
// filter, and orders overlapping catalog fetches.
package viewstate

import (
	"sync"
	"time"

	"litrank-web/internal/models"
	"litrank-web/internal/search"
)

// Ticket identifies one catalog fetch. Only the most recently issued ticket
// may commit its result.
type Ticket uint64

// State is the loaded catalog of one visitor.
type State struct {
	mu       sync.Mutex
	books    []models.Book
	session  *models.Session
	draft    *Draft
	issued   Ticket
	applied  Ticket
	lastSeen time.Time
}

// Begin issues a ticket for a fetch that is about to start.
func (s *State) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.lastSeen = time.Now()
	return s.issued
}

// Apply replaces the catalog with books if t is still the latest ticket.
// It reports whether the result was applied; a false return means a newer
// fetch was started and this result is stale.
func (s *State) Apply(t Ticket, books []models.Book) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != s.issued || t <= s.applied {
		return false
	}
	s.books = append([]models.Book(nil), books...)
	s.applied = t
	return true
}

// Loaded reports whether any fetch has been applied.
func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied > 0
}

// Books returns a copy of the loaded catalog.
func (s *State) Books() []models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	return append([]models.Book(nil), s.books...)
}

// Filter returns the loaded books whose title contains q, ignoring case.
func (s *State) Filter(q string) []models.Book {
	return search.FilterByTitle(s.Books(), q)
}

// Remember records the session the catalog was last rendered for. Partial
// renders reuse it instead of resolving the session again.
func (s *State) Remember(sess *models.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// Session returns the remembered session, nil when anonymous.
func (s *State) Session() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Draft is a failed form submission waiting to be shown again on the next
// page render.
type Draft struct {
	Form   string
	Values map[string]string
	Error  string
}

// Keep stores d, replacing any draft not yet taken.
func (s *State) Keep(d Draft) {
	s.mu.Lock()
	s.draft = &d
	s.mu.Unlock()
}

// TakeDraft returns the pending draft and clears it. It returns nil when
// there is none.
func (s *State) TakeDraft() *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	s.draft = nil
	return d
}

func (s *State) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry maps visitor ids to their state.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
	ttl    time.Duration
}

// NewRegistry creates a registry whose states are dropped after ttl idle.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{states: make(map[string]*State), ttl: ttl}
}

// For returns the state of a visitor, creating it on first use.
func (r *Registry) For(visitorID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[visitorID]
	if !ok {
		st = &State{lastSeen: time.Now()}
		r.states[visitorID] = st
	}
	return st
}

// Forget drops a visitor's state.
func (r *Registry) Forget(visitorID string) {
	r.mu.Lock()
	delete(r.states, visitorID)
	r.mu.Unlock()
}

// Sweep drops states idle since before now-ttl and returns how many were dropped.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, st := range r.states {
		if st.idleSince().Before(cutoff) {
			delete(r.states, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked visitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
