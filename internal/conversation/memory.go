package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps state in process. Entries older than maxAge are dropped
// when read, and the least recently updated entry is evicted when a new
// conversation would exceed maxEntries.
type MemoryStore struct {
	mu         sync.Mutex
	states     map[string]State
	maxAge     time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(maxAge time.Duration, maxEntries int) *MemoryStore {
	return &MemoryStore{
		states:     map[string]State{},
		maxAge:     maxAge,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[conversationID]
	if !ok {
		return State{}, ErrNotFound
	}
	if s.expired(state) {
		delete(s.states, conversationID)
		return State{}, ErrNotFound
	}
	state.LastAST = state.LastAST.Clone()
	return state, nil
}

func (s *MemoryStore) Put(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now()
	}
	state.LastAST = state.LastAST.Clone()

	if _, exists := s.states[state.ConversationID]; !exists && s.maxEntries > 0 {
		for id, existing := range s.states {
			if s.expired(existing) {
				delete(s.states, id)
			}
		}
		for len(s.states) >= s.maxEntries {
			s.evictOldest()
		}
	}
	s.states[state.ConversationID] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

// PurgeExpired drops entries last updated before olderThan.
func (s *MemoryStore) PurgeExpired(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, state := range s.states {
		if state.UpdatedAt.Before(olderThan) {
			delete(s.states, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *MemoryStore) expired(state State) bool {
	return s.maxAge > 0 && s.now().Sub(state.UpdatedAt) > s.maxAge
}

func (s *MemoryStore) evictOldest() {
	var (
		oldestID string
		oldestAt time.Time
		found    bool
	)
	for id, state := range s.states {
		if !found || state.UpdatedAt.Before(oldestAt) || (state.UpdatedAt.Equal(oldestAt) && id < oldestID) {
			oldestID, oldestAt, found = id, state.UpdatedAt, true
		}
	}
	if found {
		delete(s.states, oldestID)
	}
}
