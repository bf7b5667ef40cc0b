package core

import (
	"strings"
	"sync"
)

// DefaultHistoryTurns is the number of exchanges fed back to the model as context.
const DefaultHistoryTurns = 10

// ConversationStore is an append-only log of turns. Reset clears it and
// advances the epoch so writers holding an older epoch are rejected.
type ConversationStore struct {
	mu    sync.RWMutex
	turns []Turn
	epoch uint64
}

// NewConversationStore creates an empty store
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Append adds a turn unconditionally
func (s *ConversationStore) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// AppendIf adds a turn only while the store is still at the given epoch.
func (s *ConversationStore) AppendIf(epoch uint64, t Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.turns = append(s.turns, t)
	return true
}

// Epoch returns the current reset generation
func (s *ConversationStore) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Reset drops every turn and starts a new epoch
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.epoch++
}

// Len returns the number of stored turns
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turns returns a copy of the whole log
func (s *ConversationStore) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// Recent returns a copy of at most n trailing turns
func (s *ConversationStore) Recent(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.turns) {
		n = len(s.turns)
	}
	return append([]Turn(nil), s.turns[len(s.turns)-n:]...)
}

// FormatHistory renders the last 2*maxTurns turns as "User: ..." / "Model: ..." lines, oldest first.
func FormatHistory(turns []Turn, maxTurns int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	if limit := 2 * maxTurns; len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Model"
		if t.Role == RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
