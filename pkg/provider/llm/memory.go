package llm

import "sync"

// DefaultMemoryTurns is the number of conversation turns retained by a
// [MemoryCache] when no explicit size is given.
const DefaultMemoryTurns = 3

// Turn is one user utterance and the assistant's full reply.
type Turn struct {
	User      string
	Assistant string
}

// MemoryCache is a ring buffer of the most recent conversation turns. It is
// consulted by the intent classifier and by streaming generation as history.
// Safe for concurrent use.
type MemoryCache struct {
	mu    sync.Mutex
	turns []Turn
	max   int
}

// NewMemoryCache creates a cache retaining up to max turns. max <= 0 selects
// [DefaultMemoryTurns].
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = DefaultMemoryTurns
	}
	return &MemoryCache{max: max}
}

// Append records a completed turn, evicting the oldest when full.
func (m *MemoryCache) Append(user, assistant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, Turn{User: user, Assistant: assistant})
	if len(m.turns) > m.max {
		m.turns = m.turns[len(m.turns)-m.max:]
	}
}

// History returns the retained turns flattened pairwise into messages, in
// chronological order.
func (m *MemoryCache) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.turns)*2)
	for _, t := range m.turns {
		out = append(out, UserMessage(t.User), AssistantMessage(t.Assistant))
	}
	return out
}

// Len reports the number of retained turns.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Clear drops all retained turns.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}
