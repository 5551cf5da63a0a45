// Package history keeps the most recent alerts and fans out state events.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindState  = "state"
	KindRecord = "history"
)

// Event is a notification for live observers.
type Event struct {
	Kind    string `json:"type"`
	Payload any    `json:"payload"`
}

// Entry is one recorded alert.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	At             time.Time `json:"at"`
	Tiles          int       `json:"tiles"`
	ChangedPercent float64   `json:"changed_percent"`
	Notified       bool      `json:"notified"`
	NotifyError    string    `json:"notify_error,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
}

// Store is a bounded in-memory alert log.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Event
}

// NewStore creates a store holding at most maxEntries alerts.
func NewStore(maxEntries, eventBuffer int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// DefaultMaxEntries bounds the log when NewStore is given no size.
const DefaultMaxEntries = 50

// Add records an alert and emits it.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	s.Emit(Event{Kind: KindRecord, Payload: e})
}

// SetOutcome records how the alert episode id ended. Unknown ids are ignored.
func (s *Store) SetOutcome(id uuid.UUID, outcome string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ID == id {
			s.entries[i].Outcome = outcome
			return true
		}
	}
	return false
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Events returns the channel of emitted events.
func (s *Store) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event without blocking. Events are dropped when nobody drains.
func (s *Store) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}
