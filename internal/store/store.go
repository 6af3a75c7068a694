// Package store maintains the ordered, deduplicated message log for the
// active room. It is the single place duplicate delivery is suppressed:
// the sender's own broadcast comes back over the realtime channel, and
// identifier-based dedup here is what keeps it from appearing twice.
package store

import (
	"sync"

	"parley/internal/models"
)

// Store is an append-only, id-deduplicated message log. Live events
// that arrive before history has landed are buffered and replayed once
// IngestHistory completes, so the visible sequence is always
// history-prefix-then-live-suffix.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	byID     map[string]int
	loaded   bool
	pending  []models.Message
}

func New() *Store {
	return &Store{
		byID: make(map[string]int),
	}
}

// IngestHistory replaces the current content with the server-provided
// sequence (assumed creation-time ascending), then replays any live
// events buffered while the fetch was in flight.
func (s *Store) IngestHistory(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]models.Message, 0, len(messages)+len(s.pending))
	s.byID = make(map[string]int, len(messages)+len(s.pending))
	for _, msg := range messages {
		s.appendLocked(msg)
	}
	s.loaded = true

	for _, msg := range s.pending {
		s.appendLocked(msg)
	}
	s.pending = nil
}

// IngestLive appends a message unless its identifier is already
// present. Before history lands the message is buffered instead, in
// arrival order.
func (s *Store) IngestLive(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.pending = append(s.pending, msg)
		return
	}
	s.appendLocked(msg)
}

func (s *Store) appendLocked(msg models.Message) {
	if _, ok := s.byID[msg.ID]; ok {
		return
	}
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// All returns the current ordered sequence. The slice is a copy; the
// store never exposes its internal state for mutation.
func (s *Store) All() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given id, if loaded.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[idx], true
}

func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Loaded reports whether history has been ingested for the current
// room activation.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Reset drops all content and buffered events. Called on room switch;
// the store then waits for the new room's history again.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byID = make(map[string]int)
	s.pending = nil
	s.loaded = false
}
