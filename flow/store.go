package flow

import "sync"

// Store keeps at most one session per conversation. Implementations must let
// events for different conversations proceed independently while the engine
// serializes events for the same conversation via Acquire.
type Store interface {
	Get(conversation int64) (*Session, bool)
	Put(conversation int64, s *Session)
	Remove(conversation int64)
	// Acquire returns the conversation's mutex, creating it on first use.
	// Handlers hold it across the whole read-modify-write of a session so a
	// concurrently delivered event (including a firing deadline) cannot
	// observe a half-applied transition.
	Acquire(conversation int64) *sync.Mutex
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	locks    map[int64]*sync.Mutex
}

// NewMemoryStore constructs the in-process Store used by the bot.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (m *memoryStore) Get(conversation int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[conversation]
	return s, ok
}

// Put overwrites any existing record for the conversation.
func (m *memoryStore) Put(conversation int64, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[conversation] = s
}

func (m *memoryStore) Remove(conversation int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversation)
}

func (m *memoryStore) Acquire(conversation int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversation]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversation] = lock
	}
	return lock
}
