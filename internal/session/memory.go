package session

import "sync"

type entry struct {
	mu   sync.Mutex
	sess *Session
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewMemoryStore returns a process-local Store. Sessions are lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[int64]*entry)}
}

func (m *memoryStore) Acquire(chatID int64) (*Session, func()) {
	m.mu.Lock()
	e, ok := m.entries[chatID]
	if !ok {
		e = &entry{sess: newSession(chatID)}
		m.entries[chatID] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return e.sess, func() { once.Do(e.mu.Unlock) }
}

func (m *memoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
